package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/kindred-go/internal/db"
	"github.com/raphaelgruber/kindred-go/internal/models"
)

// LockStore is the persistence surface the locker needs. *db.Client
// satisfies it; tests use an in-memory fake.
type LockStore interface {
	SweepExpiredLock(ctx context.Context, key string) error
	TryCreateLock(ctx context.Context, key, lockID string, ttl time.Duration) error
	DeleteLock(ctx context.Context, key, lockID string) error
	GetLock(ctx context.Context, key string) (*models.LockRecord, error)
}

// Locker coordinates exclusive work across processes through lock rows.
// Expired locks are not reaped by any background process; every acquisition
// attempt sweeps the key first, so a crashed holder blocks others for at
// most the TTL.
type Locker struct {
	store        LockStore
	log          *slog.Logger
	ttl          time.Duration
	waitInterval time.Duration
}

func NewLocker(store LockStore, log *slog.Logger, ttl, waitInterval time.Duration) *Locker {
	return &Locker{
		store:        store,
		log:          log,
		ttl:          ttl,
		waitInterval: waitInterval,
	}
}

// Acquire tries to take the lock for a resource without blocking. On
// success it returns the generated lock id (the release token) and true.
// When another holder has a live lock it returns ("", false, nil).
func (l *Locker) Acquire(ctx context.Context, resourceType, resourceID string) (string, bool, error) {
	key := models.LockKey(resourceType, resourceID)

	if err := l.store.SweepExpiredLock(ctx, key); err != nil {
		return "", false, fmt.Errorf("acquire %s: %w", key, err)
	}

	lockID := uuid.New().String()
	err := l.store.TryCreateLock(ctx, key, lockID, l.ttl)
	if err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return lockID, true, nil
}

// Release frees the lock if lockID still owns it. Releasing a lock that
// expired and was taken over by another process is a no-op.
func (l *Locker) Release(ctx context.Context, resourceType, resourceID, lockID string) error {
	key := models.LockKey(resourceType, resourceID)
	if err := l.store.DeleteLock(ctx, key, lockID); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// IsLocked reports whether a live lock currently holds the resource.
func (l *Locker) IsLocked(ctx context.Context, resourceType, resourceID string) (bool, error) {
	key := models.LockKey(resourceType, resourceID)

	if err := l.store.SweepExpiredLock(ctx, key); err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	rec, err := l.store.GetLock(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	return rec != nil, nil
}

// AwaitRelease polls until the resource is unlocked or attempts run out.
// Returns true when the lock was observed free, false when it was still
// held after the last attempt.
func (l *Locker) AwaitRelease(ctx context.Context, resourceType, resourceID string, attempts int) (bool, error) {
	for i := 0; i < attempts; i++ {
		locked, err := l.IsLocked(ctx, resourceType, resourceID)
		if err != nil {
			return false, err
		}
		if !locked {
			return true, nil
		}
		if err := sleepCtx(ctx, l.waitInterval); err != nil {
			return false, err
		}
	}
	return false, nil
}

// WithLock runs fn while holding the resource lock, releasing it when fn
// returns. Returns false without running fn when the lock is held elsewhere.
func (l *Locker) WithLock(ctx context.Context, resourceType, resourceID string, fn func(ctx context.Context) error) (bool, error) {
	lockID, ok, err := l.Acquire(ctx, resourceType, resourceID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// Release on a fresh context so a canceled fn still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.Release(releaseCtx, resourceType, resourceID, lockID); err != nil {
			l.log.Warn("lock release failed, will expire by TTL",
				"resource_type", resourceType, "resource_id", resourceID, "error", err)
		}
	}()
	return true, fn(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
