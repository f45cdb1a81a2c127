package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// LockRepository takes transaction-scoped Postgres advisory locks so
// concurrent API replicas serialize on the same booking keys.
type LockRepository struct{}

// NewLockRepository constructs the repository.
func NewLockRepository() *LockRepository {
	return &LockRepository{}
}

// Exclusive blocks until the key is held exclusively for the transaction.
func (r *LockRepository) Exclusive(ctx context.Context, exec sqlx.ExtContext, key string) error {
	if exec == nil {
		return nil
	}
	if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

// Shared blocks until the key is held in shared mode for the transaction.
func (r *LockRepository) Shared(ctx context.Context, exec sqlx.ExtContext, key string) error {
	if exec == nil {
		return nil
	}
	if _, err := exec.ExecContext(ctx, `SELECT pg_advisory_xact_lock_shared(hashtext($1))`, key); err != nil {
		return fmt.Errorf("advisory shared lock %s: %w", key, err)
	}
	return nil
}
