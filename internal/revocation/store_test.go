package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"authgate/internal/observability"
)

type memoryLedger struct {
	records map[string]Record // keyed by token id
	failAll bool
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{records: make(map[string]Record)}
}

var errLedgerDown = errors.New("ledger unavailable")

func (m *memoryLedger) Insert(ctx context.Context, record Record) error {
	if m.failAll {
		return errLedgerDown
	}
	m.records[record.TokenID] = record
	return nil
}

func (m *memoryLedger) FindByTokenID(ctx context.Context, tokenID string, now time.Time) (*Record, error) {
	if m.failAll {
		return nil, errLedgerDown
	}
	record, ok := m.records[tokenID]
	if !ok || !record.ExpiresAt.After(now) {
		return nil, nil
	}
	return &record, nil
}

func (m *memoryLedger) ReplaceMarker(ctx context.Context, record Record) error {
	if m.failAll {
		return errLedgerDown
	}
	m.records[record.TokenID] = record
	return nil
}

func (m *memoryLedger) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.failAll {
		return 0, errLedgerDown
	}
	var deleted int64
	for key, record := range m.records {
		if !record.ExpiresAt.After(now) {
			delete(m.records, key)
			deleted++
		}
	}
	return deleted, nil
}

func newTestStore(ledger Ledger) *Store {
	return NewStore(ledger, observability.NewLogger())
}

func TestIsRevoked_ExactTokenMatch(t *testing.T) {
	ledger := newMemoryLedger()
	store := newTestStore(ledger)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "tok-1", "user-1", time.Now().Add(time.Hour), ReasonLogout))

	require.True(t, store.IsRevoked(ctx, "tok-1", "", time.Time{}))
	require.False(t, store.IsRevoked(ctx, "tok-2", "", time.Time{}))
}

func TestIsRevoked_ExpiredRecordIgnored(t *testing.T) {
	ledger := newMemoryLedger()
	store := newTestStore(ledger)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "tok-1", "user-1", time.Now().Add(-time.Minute), ReasonLogout))

	require.False(t, store.IsRevoked(ctx, "tok-1", "", time.Time{}))
}

func TestIsRevoked_MarkerInvalidatesOlderTokens(t *testing.T) {
	ledger := newMemoryLedger()
	store := newTestStore(ledger)
	ctx := context.Background()

	issuedBefore := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.RevokeAllForUser(ctx, "42", ReasonCredentialChange))
	issuedAfter := time.Now().UTC().Add(time.Minute)

	require.True(t, store.IsRevoked(ctx, "abc", "42", issuedBefore))
	require.False(t, store.IsRevoked(ctx, "fresh", "42", issuedAfter))
}

func TestIsRevoked_IssuedAtEqualToMarkerIsValid(t *testing.T) {
	ledger := newMemoryLedger()
	store := newTestStore(ledger)
	ctx := context.Background()

	require.NoError(t, store.RevokeAllForUser(ctx, "42", ReasonAdminAction))
	marker := ledger.records[MarkerTokenID("42")]

	// Strictly-before semantics: a token issued at the marker instant
	// survives.
	require.False(t, store.IsRevoked(ctx, "tok", "42", marker.RevokedAt))
	require.True(t, store.IsRevoked(ctx, "tok", "42", marker.RevokedAt.Add(-time.Nanosecond)))
}

func TestIsRevoked_SkipsMarkerWithoutUserOrIssuedAt(t *testing.T) {
	ledger := newMemoryLedger()
	store := newTestStore(ledger)
	ctx := context.Background()

	require.NoError(t, store.RevokeAllForUser(ctx, "42", ReasonSecurityIncident))
	old := time.Now().UTC().Add(-time.Hour)

	require.False(t, store.IsRevoked(ctx, "tok", "", old))
	require.False(t, store.IsRevoked(ctx, "tok", "42", time.Time{}))
}

func TestIsRevoked_FailsOpenOnLedgerError(t *testing.T) {
	ledger := newMemoryLedger()
	store := newTestStore(ledger)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "tok-1", "user-1", time.Now().Add(time.Hour), ReasonLogout))

	ledger.failAll = true
	require.False(t, store.IsRevoked(ctx, "tok-1", "user-1", time.Now().Add(-time.Hour)))
}

func TestRevoke_PropagatesLedgerError(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.failAll = true
	store := newTestStore(ledger)

	err := store.Revoke(context.Background(), "tok-1", "user-1", time.Now().Add(time.Hour), ReasonLogout)
	require.ErrorIs(t, err, errLedgerDown)
}

func TestRevokeAllForUser_RejectsLogoutReason(t *testing.T) {
	store := newTestStore(newMemoryLedger())

	err := store.RevokeAllForUser(context.Background(), "42", ReasonLogout)
	require.ErrorIs(t, err, ErrInvalidReason)

	err = store.RevokeAllForUser(context.Background(), "42", Reason("whatever"))
	require.ErrorIs(t, err, ErrInvalidReason)
}

func TestRevokeAllForUser_LatestMarkerWins(t *testing.T) {
	ledger := newMemoryLedger()
	store := newTestStore(ledger)
	ctx := context.Background()

	require.NoError(t, store.RevokeAllForUser(ctx, "42", ReasonCredentialChange))
	first := ledger.records[MarkerTokenID("42")]

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, store.RevokeAllForUser(ctx, "42", ReasonAdminAction))
	second := ledger.records[MarkerTokenID("42")]

	markers := 0
	for _, record := range ledger.records {
		if record.TokenID == MarkerTokenID("42") {
			markers++
		}
	}
	require.Equal(t, 1, markers)
	require.True(t, second.RevokedAt.After(first.RevokedAt))
	require.Equal(t, ReasonAdminAction, second.Reason)
}

func TestRevokeAllForUser_MarkerRetention(t *testing.T) {
	ledger := newMemoryLedger()
	store := newTestStore(ledger)

	require.NoError(t, store.RevokeAllForUser(context.Background(), "42", ReasonSecurityIncident))
	marker := ledger.records[MarkerTokenID("42")]

	require.Equal(t, 7*24*time.Hour, marker.ExpiresAt.Sub(marker.RevokedAt))
}

func TestCleanupExpired_DeletesOnlyExpired(t *testing.T) {
	ledger := newMemoryLedger()
	store := newTestStore(ledger)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "stale", "user-1", time.Now().Add(-time.Hour), ReasonLogout))
	require.NoError(t, store.Revoke(ctx, "live", "user-1", time.Now().Add(time.Hour), ReasonLogout))
	require.NoError(t, store.RevokeAllForUser(ctx, "42", ReasonAdminAction))

	deleted, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	require.True(t, store.IsRevoked(ctx, "live", "", time.Time{}))
	_, stale := ledger.records["stale"]
	require.False(t, stale)
	_, marker := ledger.records[MarkerTokenID("42")]
	require.True(t, marker)
}

func TestCleanupExpired_PropagatesLedgerError(t *testing.T) {
	ledger := newMemoryLedger()
	ledger.failAll = true
	store := newTestStore(ledger)

	_, err := store.CleanupExpired(context.Background())
	require.ErrorIs(t, err, errLedgerDown)
}
