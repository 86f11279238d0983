package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authgate/internal/observability"
)

// ErrNilAccount signals a caller bug: every policy entry point requires the
// account snapshot it is deciding about.
var ErrNilAccount = errors.New("lockout: nil account")

// Account is the snapshot of the credential-store fields the policy reads.
// The store owns the record; the policy mutates it only through AccountStore.
type Account struct {
	ID                string
	Email             string
	FailedAttempts    int
	LockedUntil       *time.Time
	LastFailedAttempt *time.Time
}

// AccountStore is the credential-store collaborator. Implementations must
// apply each mutation atomically; concurrent failures racing on the same
// counter are serialized by storage, not by this package.
type AccountStore interface {
	IncrementFailedAttempts(ctx context.Context, accountID string) (int, error)
	LockAccount(ctx context.Context, accountID string, duration time.Duration) error
	ResetFailedAttempts(ctx context.Context, accountID string) error
}

type Status struct {
	IsLocked         bool
	RemainingMinutes int
	LockedUntil      *time.Time
}

type FailureResult struct {
	AccountLocked     bool
	FailedAttempts    int
	AttemptsRemaining int
	LockedUntil       *time.Time
}

type Policy struct {
	cfg    Config
	store  AccountStore
	logger *observability.Logger
}

func NewPolicy(cfg Config, store AccountStore, logger *observability.Logger) *Policy {
	return &Policy{cfg: cfg, store: store, logger: logger}
}

// CheckLockout reports whether the account is currently locked. A nil
// account or a disabled policy is trivially unlocked. Remaining time is
// rounded up to whole minutes and clamped at zero once the lock has passed.
func (p *Policy) CheckLockout(account *Account) Status {
	if account == nil || !p.cfg.Enabled {
		return Status{}
	}
	if account.LockedUntil == nil {
		return Status{}
	}

	now := time.Now().UTC()
	until := account.LockedUntil.UTC()
	if !until.After(now) {
		return Status{}
	}

	remaining := int((until.Sub(now) + time.Minute - 1) / time.Minute)

	return Status{
		IsLocked:         true,
		RemainingMinutes: remaining,
		LockedUntil:      &until,
	}
}

// HandleFailedLogin records one failed attempt. The increment is exactly
// one per call; the attempt that brings the counter to the threshold locks
// the account and emits a security log entry. A lock that has expired does
// not reset the counter, so an account one failure short of the threshold
// re-locks on the very next failure.
func (p *Policy) HandleFailedLogin(ctx context.Context, account *Account, sourceAddr string) (FailureResult, error) {
	if account == nil {
		return FailureResult{}, ErrNilAccount
	}

	if !p.cfg.Enabled {
		// Informational only: no counter exists to subtract from.
		return FailureResult{AttemptsRemaining: p.cfg.MaxAttempts}, nil
	}

	count, err := p.store.IncrementFailedAttempts(ctx, account.ID)
	if err != nil {
		return FailureResult{}, fmt.Errorf("increment failed attempts: %w", err)
	}

	result := FailureResult{
		FailedAttempts:    count,
		AttemptsRemaining: max(0, p.cfg.MaxAttempts-count),
	}

	if count >= p.cfg.MaxAttempts {
		until := time.Now().UTC().Add(p.cfg.LockDuration)
		if err := p.store.LockAccount(ctx, account.ID, p.cfg.LockDuration); err != nil {
			return FailureResult{}, fmt.Errorf("lock account: %w", err)
		}

		result.AccountLocked = true
		result.LockedUntil = &until

		p.logger.Warn("account_locked", map[string]any{
			"account_id":      account.ID,
			"email":           account.Email,
			"failed_attempts": count,
			"locked_until":    until.Format(time.RFC3339),
			"source":          sourceOrUnknown(sourceAddr),
		})
	}

	return result, nil
}

// HandleSuccessfulLogin clears the failure counter. It is a true no-op when
// the policy or reset-on-success is disabled, or when the counter is already
// zero: no mutation, no log entry.
func (p *Policy) HandleSuccessfulLogin(ctx context.Context, account *Account, sourceAddr string) error {
	if account == nil {
		return ErrNilAccount
	}

	if !p.cfg.Enabled || !p.cfg.ResetOnSuccess || account.FailedAttempts == 0 {
		return nil
	}

	wasLocked := account.LockedUntil != nil && account.LockedUntil.After(time.Now().UTC())

	if err := p.store.ResetFailedAttempts(ctx, account.ID); err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}

	p.logger.Info("lockout_counter_reset", map[string]any{
		"account_id":       account.ID,
		"email":            account.Email,
		"cleared_failures": account.FailedAttempts,
		"was_locked":       wasLocked,
		"source":           sourceOrUnknown(sourceAddr),
	})

	return nil
}

func sourceOrUnknown(addr string) string {
	if addr == "" {
		return "unknown"
	}
	return addr
}
