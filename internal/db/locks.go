package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// Lock table operations. The record id doubles as the lock key, so record
// uniqueness enforces the at-most-one-live-lock invariant without a
// read-then-write race: CREATE on a held key fails with ErrAlreadyExists.

// SweepExpiredLock deletes the lock row for key if its expiry has passed.
// A no-op when the lock is live or absent.
func (c *Client) SweepExpiredLock(ctx context.Context, key string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("lock", $key) WHERE expires <= time::now()
	`, map[string]any{"key": key})
	if err != nil {
		return fmt.Errorf("sweep expired lock: %w", err)
	}
	return nil
}

// TryCreateLock atomically inserts a lock row. Returns ErrAlreadyExists
// (wrapped) when a live lock row holds the key.
func (c *Client) TryCreateLock(ctx context.Context, key, lockID string, ttl time.Duration) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("lock", $key) SET
			lock_id = $lock_id,
			acquired = time::now(),
			expires = time::now() + duration::from::millis($ttl_ms)
	`, map[string]any{
		"key":     key,
		"lock_id": lockID,
		"ttl_ms":  ttl.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("create lock: %w", wrapQueryError(err))
	}
	return nil
}

// DeleteLock releases a lock by key, but only when lockID still matches.
// A lock that expired and was re-acquired by someone else stays put.
func (c *Client) DeleteLock(ctx context.Context, key, lockID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("lock", $key) WHERE lock_id = $lock_id
	`, map[string]any{"key": key, "lock_id": lockID})
	if err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}

// GetLock returns the lock row for key, or nil when absent.
func (c *Client) GetLock(ctx context.Context, key string) (*models.LockRecord, error) {
	results, err := surrealdb.Query[[]models.LockRecord](ctx, c.db, `
		SELECT * FROM type::record("lock", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}
