package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"authgate/internal/observability"
	"authgate/internal/revocation"
)

const testSecret = "test-secret"

type memoryLedger struct {
	records map[string]revocation.Record
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{records: make(map[string]revocation.Record)}
}

func (m *memoryLedger) Insert(ctx context.Context, record revocation.Record) error {
	m.records[record.TokenID] = record
	return nil
}

func (m *memoryLedger) FindByTokenID(ctx context.Context, tokenID string, now time.Time) (*revocation.Record, error) {
	record, ok := m.records[tokenID]
	if !ok || !record.ExpiresAt.After(now) {
		return nil, nil
	}
	return &record, nil
}

func (m *memoryLedger) ReplaceMarker(ctx context.Context, record revocation.Record) error {
	m.records[record.TokenID] = record
	return nil
}

func (m *memoryLedger) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func signedToken(t *testing.T, jti, sub string, issuedAt time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"jti": jti,
		"sub": sub,
		"iat": issuedAt.Unix(),
		"exp": issuedAt.Add(15 * time.Minute).Unix(),
		"typ": "access",
	}
	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return encoded
}

func middlewareWithStore(store *revocation.Store) (http.Handler, *TokenClaims) {
	var seen TokenClaims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if ok {
			seen = claims
		}
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(testSecret, store, next), &seen
}

func requestWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestMiddleware_ValidTokenPasses(t *testing.T) {
	store := revocation.NewStore(newMemoryLedger(), observability.NewLogger())
	handler, seen := middlewareWithStore(store)

	issuedAt := time.Now().UTC().Truncate(time.Second)
	token := signedToken(t, "jti-1", "user-1", issuedAt)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestWithToken(token))

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "user-1", seen.UserID)
	require.Equal(t, "jti-1", seen.TokenID)
	require.Equal(t, issuedAt, seen.IssuedAt)
}

func TestMiddleware_MissingTokenRejected(t *testing.T) {
	store := revocation.NewStore(newMemoryLedger(), observability.NewLogger())
	handler, _ := middlewareWithStore(store)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestWithToken(""))

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestMiddleware_BadSignatureRejected(t *testing.T) {
	store := revocation.NewStore(newMemoryLedger(), observability.NewLogger())
	handler, _ := middlewareWithStore(store)

	claims := jwt.MapClaims{
		"jti": "jti-1", "sub": "user-1",
		"iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix(),
		"typ": "access",
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestWithToken(forged))

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestMiddleware_RevokedTokenRejected(t *testing.T) {
	store := revocation.NewStore(newMemoryLedger(), observability.NewLogger())
	handler, _ := middlewareWithStore(store)

	issuedAt := time.Now().UTC().Truncate(time.Second)
	token := signedToken(t, "jti-1", "user-1", issuedAt)

	require.NoError(t, store.Revoke(context.Background(), "jti-1", "user-1", issuedAt.Add(15*time.Minute), revocation.ReasonLogout))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestWithToken(token))

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestMiddleware_TokenBeforeMarkerRejected(t *testing.T) {
	store := revocation.NewStore(newMemoryLedger(), observability.NewLogger())
	handler, _ := middlewareWithStore(store)

	issuedAt := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	token := signedToken(t, "jti-old", "user-1", issuedAt)

	require.NoError(t, store.RevokeAllForUser(context.Background(), "user-1", revocation.ReasonCredentialChange))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestWithToken(token))
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	// A token issued after the marker is untouched.
	fresh := signedToken(t, "jti-new", "user-1", time.Now().UTC().Add(time.Minute).Truncate(time.Second))
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, requestWithToken(fresh))
	require.Equal(t, http.StatusOK, recorder.Code)
}
