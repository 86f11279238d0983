package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"authgate/internal/lockout"
	"authgate/internal/revocation"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

type Service struct {
	repo        *Repository
	revocations *revocation.Store
	policy      *lockout.Policy
	jwtSecret   []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func NewService(repo *Repository, revocations *revocation.Store, policy *lockout.Policy, jwtSecret string) *Service {
	return &Service{
		repo:        repo,
		revocations: revocations,
		policy:      policy,
		jwtSecret:   []byte(jwtSecret),
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
	}
}

func (s *Service) WithTokenTTLs(accessTTL, refreshTTL time.Duration) {
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
}

// Login authenticates the credentials, gated by the lockout policy: a
// locked account is refused before the password is even checked, a wrong
// password feeds the failure counter, and a correct one clears it.
func (s *Service) Login(ctx context.Context, email, password, sourceAddr string) (Tokens, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	password = strings.TrimSpace(password)

	if email == "" || password == "" {
		return Tokens{}, ErrInvalidCredentials
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, err
	}

	account := lockoutAccount(user)
	if status := s.policy.CheckLockout(account); status.IsLocked {
		return Tokens{}, ErrAccountLocked{Status: status}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		result, failErr := s.policy.HandleFailedLogin(ctx, account, sourceAddr)
		if failErr != nil {
			return Tokens{}, failErr
		}
		if result.AccountLocked {
			locked := s.policy.CheckLockout(&lockout.Account{
				ID:          user.ID,
				Email:       user.Email,
				LockedUntil: result.LockedUntil,
			})
			return Tokens{}, ErrAccountLocked{Status: locked}
		}
		return Tokens{}, ErrInvalidCredentials
	}

	if err := s.policy.HandleSuccessfulLogin(ctx, account, sourceAddr); err != nil {
		return Tokens{}, err
	}

	return s.issueTokens(ctx, user.ID)
}

// Refresh rotates a refresh token. A token issued before the user's
// revoke-all marker is rejected even though the row itself was never
// individually revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, ErrInvalidRefreshToken
	}

	record, err := s.repo.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		return Tokens{}, err
	}

	if s.revocations.IsRevoked(ctx, record.ID, record.UserID, record.CreatedAt) {
		return Tokens{}, ErrInvalidRefreshToken
	}

	newRefresh, err := randomToken(48)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate new refresh token: %w", err)
	}

	newExp := time.Now().UTC().Add(s.refreshTTL)
	userID, err := s.repo.RotateRefreshToken(ctx, refreshToken, newRefresh, newExp)
	if err != nil {
		return Tokens{}, err
	}

	access, expiresIn, err := s.issueAccessToken(userID)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: newRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

// Logout revokes the presented access token until its natural expiry and
// retires the refresh token. A failed revocation propagates: the caller
// must know the credential is still live.
func (s *Service) Logout(ctx context.Context, claims TokenClaims, refreshToken string) error {
	if err := s.revocations.Revoke(ctx, claims.TokenID, claims.UserID, claims.ExpiresAt, revocation.ReasonLogout); err != nil {
		return err
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken != "" {
		if err := s.repo.RevokeRefreshToken(ctx, refreshToken); err != nil {
			return err
		}
	}

	return nil
}

// ChangePassword verifies the current password, installs the new hash, and
// invalidates every credential issued before this moment.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidCredentials
		}
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(strings.TrimSpace(currentPassword))); err != nil {
		return ErrInvalidCredentials
	}

	if err := s.repo.UpdatePassword(ctx, userID, strings.TrimSpace(newPassword)); err != nil {
		return err
	}

	return s.revokeEverything(ctx, userID, revocation.ReasonCredentialChange)
}

// RevokeAllSessions is the admin entry point: it invalidates every token
// the user holds, for one of the permitted reasons.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string, reason revocation.Reason) error {
	return s.revokeEverything(ctx, userID, reason)
}

func (s *Service) revokeEverything(ctx context.Context, userID string, reason revocation.Reason) error {
	if err := s.revocations.RevokeAllForUser(ctx, userID, reason); err != nil {
		return err
	}

	return s.repo.RevokeAllRefreshTokens(ctx, userID)
}

func (s *Service) issueTokens(ctx context.Context, userID string) (Tokens, error) {
	access, expiresIn, err := s.issueAccessToken(userID)
	if err != nil {
		return Tokens{}, err
	}

	refreshToken, err := randomToken(48)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.repo.CreateRefreshToken(ctx, userID, refreshToken, time.Now().UTC().Add(s.refreshTTL)); err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

func (s *Service) issueAccessToken(userID string) (string, int64, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return "", 0, fmt.Errorf("generate jti: %w", err)
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"jti": jti.String(),
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"typ": "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, int64(s.accessTTL.Seconds()), nil
}

// BootstrapFromEnv seeds the single admin account when both credentials
// are provided; providing only one is a configuration error.
func (s *Service) BootstrapFromEnv(ctx context.Context, adminEmail, adminPassword string) error {
	adminEmail = strings.TrimSpace(strings.ToLower(adminEmail))
	adminPassword = strings.TrimSpace(adminPassword)

	if adminEmail == "" && adminPassword == "" {
		return nil
	}
	if adminEmail == "" || adminPassword == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	return s.repo.UpsertAdminUser(ctx, adminEmail, adminPassword)
}

func lockoutAccount(user User) *lockout.Account {
	return &lockout.Account{
		ID:                user.ID,
		Email:             user.Email,
		FailedAttempts:    user.FailedAttempts,
		LockedUntil:       user.LockedUntil,
		LastFailedAttempt: user.LastFailedAttempt,
	}
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrAccountLocked carries the lockout status so the handler can render
// the 423 contract.
type ErrAccountLocked struct {
	Status lockout.Status
}

func (e ErrAccountLocked) Error() string {
	return "account temporarily locked"
}
