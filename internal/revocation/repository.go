package revocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository implements Ledger on top of Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, record Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_revoked_tokens (id, token_id, user_id, revoked_at, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.ID, record.TokenID, record.UserID, record.RevokedAt, record.ExpiresAt, string(record.Reason))
	if err != nil {
		return fmt.Errorf("insert revoked token: %w", err)
	}

	return nil
}

func (r *Repository) FindByTokenID(ctx context.Context, tokenID string, now time.Time) (*Record, error) {
	var record Record
	var reason string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, token_id, user_id, revoked_at, expires_at, reason
		FROM auth_revoked_tokens
		WHERE token_id = $1 AND expires_at > $2
	`, tokenID, now).Scan(&record.ID, &record.TokenID, &record.UserID, &record.RevokedAt, &record.ExpiresAt, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query revoked token: %w", err)
	}

	record.Reason = Reason(reason)
	record.RevokedAt = record.RevokedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()

	return &record, nil
}

func (r *Repository) ReplaceMarker(ctx context.Context, record Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin marker tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM auth_revoked_tokens
		WHERE token_id = $1 AND user_id = $2
	`, record.TokenID, record.UserID)
	if err != nil {
		return fmt.Errorf("delete previous marker: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_revoked_tokens (id, token_id, user_id, revoked_at, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, record.ID, record.TokenID, record.UserID, record.RevokedAt, record.ExpiresAt, string(record.Reason))
	if err != nil {
		return fmt.Errorf("insert marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit marker tx: %w", err)
	}

	return nil
}

func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_revoked_tokens
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired revocations: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired revocations rows affected: %w", err)
	}

	return affected, nil
}
