package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// Rate limit table operations. One row per limited dependency; the record
// id is the limiter key. The interval guarantee rests on two atomic
// operations: first-caller CREATE (fails when raced) and a conditional
// UPDATE that only fires when the stored timestamp is old enough.

// GetRateLimit returns the rate limit row for key, or nil when absent.
func (c *Client) GetRateLimit(ctx context.Context, key string) (*models.RateLimitRecord, error) {
	results, err := surrealdb.Query[[]models.RateLimitRecord](ctx, c.db, `
		SELECT * FROM type::record("rate_limit", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("get rate limit: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// TryInsertRateLimit records the first-ever acquisition for key. Returns
// ErrAlreadyExists (wrapped) when another caller inserted first.
func (c *Client) TryInsertRateLimit(ctx context.Context, key string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("rate_limit", $key) SET last_request = time::now()
	`, map[string]any{"key": key})
	if err != nil {
		return fmt.Errorf("insert rate limit: %w", wrapQueryError(err))
	}
	return nil
}

// TryAdvanceRateLimit attempts the conditional timestamp update that grants
// an acquisition: it succeeds only if the stored timestamp is at least
// minDelay old, so exactly one of any set of racing callers wins. Returns
// true when this caller won.
func (c *Client) TryAdvanceRateLimit(ctx context.Context, key string, minDelay time.Duration) (bool, error) {
	results, err := surrealdb.Query[[]models.RateLimitRecord](ctx, c.db, `
		UPDATE type::record("rate_limit", $key) SET last_request = time::now()
		WHERE last_request <= time::now() - duration::from::millis($min_delay_ms)
		RETURN AFTER
	`, map[string]any{
		"key":          key,
		"min_delay_ms": minDelay.Milliseconds(),
	})
	if err != nil {
		return false, fmt.Errorf("advance rate limit: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return false, nil
	}
	return len((*results)[0].Result) > 0, nil
}
