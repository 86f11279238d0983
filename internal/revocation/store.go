package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"authgate/internal/observability"
)

// markerRetention is how long a revoke-all marker outlives its creation.
// Fixed and deliberately longer than any access- or refresh-token lifetime,
// so a marker never expires while a token it invalidates could still verify.
const markerRetention = 7 * 24 * time.Hour

var ErrInvalidReason = errors.New("revocation: reason not permitted for revoke-all")

// Ledger is the persistence collaborator for revocation records. Lookups
// must be indexed exact matches; ReplaceMarker must be atomic so concurrent
// revoke-alls for one user never leave two markers behind.
type Ledger interface {
	Insert(ctx context.Context, record Record) error
	FindByTokenID(ctx context.Context, tokenID string, now time.Time) (*Record, error)
	ReplaceMarker(ctx context.Context, record Record) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Store struct {
	ledger Ledger
	logger *observability.Logger
}

func NewStore(ledger Ledger, logger *observability.Logger) *Store {
	return &Store{ledger: ledger, logger: logger}
}

// Revoke records a single token as revoked. Storage errors propagate: a
// logout that silently failed to revoke would be a security gap.
func (s *Store) Revoke(ctx context.Context, tokenID, userID string, expiresAt time.Time, reason Reason) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate revocation id: %w", err)
	}

	record := Record{
		ID:        id.String(),
		TokenID:   tokenID,
		UserID:    userID,
		RevokedAt: time.Now().UTC(),
		ExpiresAt: expiresAt.UTC(),
		Reason:    reason,
	}

	if err := s.ledger.Insert(ctx, record); err != nil {
		return fmt.Errorf("insert revocation: %w", err)
	}

	return nil
}

// IsRevoked answers whether the presented credential is still valid. It
// never returns an error: a storage failure on this path is logged and
// resolved as "not revoked", because failing closed here would lock out
// every authenticated user for the duration of a storage outage.
//
// The exact token-id record is checked first. The per-user marker is only
// consulted when both userID and issuedAt are supplied; a marker revokes
// every token issued strictly before its RevokedAt.
func (s *Store) IsRevoked(ctx context.Context, tokenID, userID string, issuedAt time.Time) bool {
	now := time.Now().UTC()

	record, err := s.ledger.FindByTokenID(ctx, tokenID, now)
	if err != nil {
		s.logger.Error("revocation_lookup_failed", map[string]any{
			"token_id": tokenID,
			"error":    err.Error(),
		})
		return false
	}
	if record != nil {
		return true
	}

	if userID == "" || issuedAt.IsZero() {
		return false
	}

	marker, err := s.ledger.FindByTokenID(ctx, MarkerTokenID(userID), now)
	if err != nil {
		s.logger.Error("revocation_marker_lookup_failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return false
	}
	if marker == nil {
		return false
	}

	return issuedAt.UTC().Before(marker.RevokedAt)
}

// RevokeAllForUser invalidates every token the user holds that was issued
// before now, by replacing the user's single marker row. Only the latest
// revocation instant matters, so the previous marker is superseded rather
// than accumulated.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string, reason Reason) error {
	if !reason.AllowsRevokeAll() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate marker id: %w", err)
	}

	now := time.Now().UTC()
	record := Record{
		ID:        id.String(),
		TokenID:   MarkerTokenID(userID),
		UserID:    userID,
		RevokedAt: now,
		ExpiresAt: now.Add(markerRetention),
		Reason:    reason,
	}

	if err := s.ledger.ReplaceMarker(ctx, record); err != nil {
		return fmt.Errorf("replace revocation marker: %w", err)
	}

	s.logger.Info("user_tokens_revoked", map[string]any{
		"user_id": userID,
		"reason":  string(reason),
	})

	return nil
}

// CleanupExpired deletes every record, individual or marker, whose
// retention horizon has passed. Invoked by an external scheduler.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := s.ledger.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired revocations: %w", err)
	}

	return deleted, nil
}
