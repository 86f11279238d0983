package auth

import "time"

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	FailedAttempts    int
	LockedUntil       *time.Time
	LastFailedAttempt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type RefreshTokenRecord struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// TokenClaims is the subset of a verified access token the rest of the
// service needs: who it belongs to, which credential it is, and when it
// was issued and expires.
type TokenClaims struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
