package coord

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/db"
	"github.com/raphaelgruber/kindred-go/internal/models"
)

// fakeStore mirrors the database's atomicity guarantees in memory: create
// fails on an existing row and the conditional timestamp update is decided
// under one mutex, so racing goroutines see the same semantics the real
// tables provide.
type fakeStore struct {
	mu    sync.Mutex
	locks map[string]models.LockRecord
	rates map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		locks: make(map[string]models.LockRecord),
		rates: make(map[string]time.Time),
	}
}

func (f *fakeStore) SweepExpiredLock(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.locks[key]; ok && !rec.Expires.After(time.Now()) {
		delete(f.locks, key)
	}
	return nil
}

func (f *fakeStore) TryCreateLock(_ context.Context, key, lockID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.locks[key]; ok {
		return db.ErrAlreadyExists
	}
	now := time.Now()
	f.locks[key] = models.LockRecord{LockID: lockID, Acquired: now, Expires: now.Add(ttl)}
	return nil
}

func (f *fakeStore) DeleteLock(_ context.Context, key, lockID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.locks[key]; ok && rec.LockID == lockID {
		delete(f.locks, key)
	}
	return nil
}

func (f *fakeStore) GetLock(_ context.Context, key string) (*models.LockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.locks[key]; ok {
		out := rec
		return &out, nil
	}
	return nil, nil
}

func (f *fakeStore) GetRateLimit(_ context.Context, key string) (*models.RateLimitRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if last, ok := f.rates[key]; ok {
		return &models.RateLimitRecord{LastRequest: last}, nil
	}
	return nil, nil
}

func (f *fakeStore) TryInsertRateLimit(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rates[key]; ok {
		return db.ErrAlreadyExists
	}
	f.rates[key] = time.Now()
	return nil
}

func (f *fakeStore) TryAdvanceRateLimit(_ context.Context, key string, minDelay time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.rates[key]
	if !ok {
		return false, nil
	}
	if time.Since(last) < minDelay {
		return false, nil
	}
	f.rates[key] = time.Now()
	return true, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLockerAcquireRelease(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := NewLocker(store, testLogger(), time.Minute, 10*time.Millisecond)

	lockID, ok, err := locker.Acquire(ctx, "game", "42")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok || lockID == "" {
		t.Fatalf("expected acquisition with lock id, got ok=%v id=%q", ok, lockID)
	}

	// A second caller must be refused while the lock is live.
	_, ok2, err := locker.Acquire(ctx, "game", "42")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok2 {
		t.Fatal("second acquire succeeded on a held lock")
	}

	// A different resource is unaffected.
	_, ok3, err := locker.Acquire(ctx, "game", "43")
	if err != nil {
		t.Fatalf("other resource acquire: %v", err)
	}
	if !ok3 {
		t.Fatal("acquire on unrelated resource refused")
	}

	if err := locker.Release(ctx, "game", "42", lockID); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, ok4, err := locker.Acquire(ctx, "game", "42")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if !ok4 {
		t.Fatal("acquire refused after release")
	}
}

func TestLockerExpiredLockIsReclaimed(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := NewLocker(store, testLogger(), 20*time.Millisecond, 10*time.Millisecond)

	if _, ok, err := locker.Acquire(ctx, "game", "7"); err != nil || !ok {
		t.Fatalf("initial acquire: ok=%v err=%v", ok, err)
	}

	// Simulate a crashed holder: never released, TTL passes.
	time.Sleep(30 * time.Millisecond)

	_, ok, err := locker.Acquire(ctx, "game", "7")
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if !ok {
		t.Fatal("expired lock was not reclaimed")
	}
}

func TestLockerReleaseByStaleHolderIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := NewLocker(store, testLogger(), 20*time.Millisecond, 10*time.Millisecond)

	staleID, ok, err := locker.Acquire(ctx, "game", "9")
	if err != nil || !ok {
		t.Fatalf("initial acquire: ok=%v err=%v", ok, err)
	}

	time.Sleep(30 * time.Millisecond)

	// A second process takes over the expired lock.
	if _, ok, err := locker.Acquire(ctx, "game", "9"); err != nil || !ok {
		t.Fatalf("takeover acquire: ok=%v err=%v", ok, err)
	}

	// The stale holder's release must not free the new holder's lock.
	if err := locker.Release(ctx, "game", "9", staleID); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	locked, err := locker.IsLocked(ctx, "game", "9")
	if err != nil {
		t.Fatalf("is locked: %v", err)
	}
	if !locked {
		t.Fatal("stale release freed a lock it no longer owned")
	}
}

func TestLockerMutualExclusionConcurrent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := NewLocker(store, testLogger(), time.Minute, 10*time.Millisecond)

	const goroutines = 32
	var wg sync.WaitGroup
	var winners int32
	var mu sync.Mutex

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := locker.Acquire(ctx, "game", "100")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestLockerWithLock(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := NewLocker(store, testLogger(), time.Minute, 10*time.Millisecond)

	var ran bool
	ok, err := locker.WithLock(ctx, "game", "5", func(context.Context) error {
		ran = true
		locked, err := locker.IsLocked(ctx, "game", "5")
		if err != nil {
			return err
		}
		if !locked {
			t.Error("lock not held inside WithLock")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if !ok || !ran {
		t.Fatalf("expected fn to run under the lock, ok=%v ran=%v", ok, ran)
	}

	locked, err := locker.IsLocked(ctx, "game", "5")
	if err != nil {
		t.Fatalf("is locked: %v", err)
	}
	if locked {
		t.Fatal("lock still held after WithLock returned")
	}
}

func TestLockerAwaitRelease(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := NewLocker(store, testLogger(), time.Minute, 5*time.Millisecond)

	lockID, ok, err := locker.Acquire(ctx, "game", "11")
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = locker.Release(context.Background(), "game", "11", lockID)
	}()

	freed, err := locker.AwaitRelease(ctx, "game", "11", 50)
	if err != nil {
		t.Fatalf("await release: %v", err)
	}
	if !freed {
		t.Fatal("await release gave up before the lock was freed")
	}
}

func TestLockerAwaitReleaseGivesUp(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker := NewLocker(store, testLogger(), time.Minute, time.Millisecond)

	if _, ok, err := locker.Acquire(ctx, "game", "12"); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	freed, err := locker.AwaitRelease(ctx, "game", "12", 3)
	if err != nil {
		t.Fatalf("await release: %v", err)
	}
	if freed {
		t.Fatal("await release reported free on a held lock")
	}
}

func TestLimiterFirstCallPassesImmediately(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	limiter := NewLimiter(store, testLogger(), 30, time.Millisecond)

	start := time.Now()
	if err := limiter.Acquire(ctx, "store_api", 100*time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("first acquisition should not wait, took %v", elapsed)
	}
}

func TestLimiterEnforcesSpacing(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	limiter := NewLimiter(store, testLogger(), 30, time.Millisecond)

	const minDelay = 60 * time.Millisecond

	if err := limiter.Acquire(ctx, "store_api", minDelay); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	start := time.Now()
	if err := limiter.Acquire(ctx, "store_api", minDelay); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < minDelay {
		t.Fatalf("second acquisition came %v after the first, want >= %v", elapsed, minDelay)
	}
}

func TestLimiterConcurrentCallersAreSerialized(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	limiter := NewLimiter(store, testLogger(), 100, time.Millisecond)

	const (
		callers  = 4
		minDelay = 25 * time.Millisecond
	)

	var mu sync.Mutex
	var grants []time.Time
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(ctx, "store_api", minDelay); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			grants = append(grants, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(grants) != callers {
		t.Fatalf("expected %d grants, got %d", callers, len(grants))
	}

	// Grant timestamps carry scheduling jitter between the store update and
	// the append, so allow a small tolerance below the configured spacing.
	sortTimes(grants)
	const tolerance = 10 * time.Millisecond
	for i := 1; i < len(grants); i++ {
		if gap := grants[i].Sub(grants[i-1]); gap < minDelay-tolerance {
			t.Errorf("grants %d and %d only %v apart, want >= %v", i-1, i, gap, minDelay)
		}
	}
}

func TestLimiterContextCancellation(t *testing.T) {
	store := newFakeStore()
	limiter := NewLimiter(store, testLogger(), 30, time.Millisecond)

	// Occupy the slot, then cancel a waiter mid-sleep.
	if err := limiter.Acquire(context.Background(), "store_api", time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := limiter.Acquire(ctx, "store_api", time.Second)
	if err == nil {
		t.Fatal("expected cancellation error, got nil")
	}
}

func sortTimes(ts []time.Time) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Before(ts[j-1]); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}
