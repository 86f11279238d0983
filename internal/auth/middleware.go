package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate/internal/revocation"
)

type contextKey struct{}

var claimsKey contextKey

// ClaimsFromContext returns the verified access-token claims attached by
// Middleware.
func ClaimsFromContext(ctx context.Context) (TokenClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(TokenClaims)
	return claims, ok
}

// Middleware validates the bearer token and then asks the revocation
// checker whether the credential is still live. A revoked token is
// rejected with the same response as any other invalid credential.
func Middleware(jwtSecret string, revocations *revocation.Store, next http.Handler) http.Handler {
	secret := []byte(jwtSecret)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "invalid authorization token")
			return
		}

		mapClaims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, mapClaims, func(token *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if tokenType, _ := mapClaims["typ"].(string); tokenType != "access" {
			writeError(w, http.StatusUnauthorized, "invalid token type")
			return
		}

		claims, ok := extractClaims(mapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}

		if revocations.IsRevoked(r.Context(), claims.TokenID, claims.UserID, claims.IssuedAt) {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func extractClaims(mapClaims jwt.MapClaims) (TokenClaims, bool) {
	jti, _ := mapClaims["jti"].(string)
	sub, _ := mapClaims["sub"].(string)
	if jti == "" || sub == "" {
		return TokenClaims{}, false
	}

	iat, ok := numericTime(mapClaims["iat"])
	if !ok {
		return TokenClaims{}, false
	}
	exp, ok := numericTime(mapClaims["exp"])
	if !ok {
		return TokenClaims{}, false
	}

	return TokenClaims{
		UserID:    sub,
		TokenID:   jti,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, true
}

func numericTime(value any) (time.Time, bool) {
	seconds, ok := value.(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(seconds), 0).UTC(), true
}
