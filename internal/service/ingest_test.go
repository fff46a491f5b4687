package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/models"
	"github.com/raphaelgruber/kindred-go/internal/storeapi"
)

func TestIngestUnseenFetchesAndPersists(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	fetcher.entries[42] = storeEntry(42, "Hollow Garden")
	locks := newFakeLocker()
	svc := testIngestService(store, fetcher, locks)

	game, err := svc.Ingest(context.Background(), 42, IngestOptions{SkipEnrichment: true})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if game.Title != "Hollow Garden" {
		t.Errorf("Title = %q", game.Title)
	}
	if fetcher.fetchCount() != 1 {
		t.Errorf("fetches = %d, want 1", fetcher.fetchCount())
	}
	if _, ok := store.get(42); !ok {
		t.Error("game not persisted")
	}
	if locked, _ := locks.IsLocked(context.Background(), "game", "42"); locked {
		t.Error("lock still held after ingestion")
	}
}

func TestIngestCachedFastPath(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	fetcher.entries[42] = storeEntry(42, "Hollow Garden")
	svc := testIngestService(store, fetcher, newFakeLocker())

	if _, err := svc.Ingest(context.Background(), 42, IngestOptions{SkipEnrichment: true}); err != nil {
		t.Fatal(err)
	}
	game, err := svc.Ingest(context.Background(), 42, IngestOptions{SkipEnrichment: true})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if game == nil || game.GameID != 42 {
		t.Fatalf("game = %+v", game)
	}
	if fetcher.fetchCount() != 1 {
		t.Errorf("cached path fetched again: fetches = %d", fetcher.fetchCount())
	}
}

func TestIngestForceRefetches(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	fetcher.entries[42] = storeEntry(42, "Hollow Garden")
	svc := testIngestService(store, fetcher, newFakeLocker())

	if _, err := svc.Ingest(context.Background(), 42, IngestOptions{SkipEnrichment: true}); err != nil {
		t.Fatal(err)
	}

	fetcher.mu.Lock()
	fetcher.entries[42] = storeEntry(42, "Hollow Garden: Renamed")
	fetcher.mu.Unlock()

	game, err := svc.Ingest(context.Background(), 42, IngestOptions{Force: true, SkipEnrichment: true})
	if err != nil {
		t.Fatalf("force Ingest: %v", err)
	}
	if game.Title != "Hollow Garden: Renamed" {
		t.Errorf("Title = %q, want renamed", game.Title)
	}
	if fetcher.fetchCount() != 2 {
		t.Errorf("fetches = %d, want 2", fetcher.fetchCount())
	}
}

func TestIngestIdempotentUnderConcurrency(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	fetcher.entries[42] = storeEntry(42, "Hollow Garden")
	svc := testIngestService(store, fetcher, newFakeLocker())

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			game, err := svc.Ingest(context.Background(), 42, IngestOptions{SkipEnrichment: true})
			if err != nil {
				t.Errorf("Ingest: %v", err)
				return
			}
			if game == nil || game.GameID != 42 {
				t.Errorf("game = %+v", game)
			}
		}()
	}
	wg.Wait()

	if store.count() != 1 {
		t.Errorf("persisted rows = %d, want 1", store.count())
	}
	// The common case is exactly one fetch; the fetch-anyway timeout
	// fallback allows a few more but never one per caller.
	if fetcher.fetchCount() >= callers {
		t.Errorf("fetches = %d, want far fewer than %d callers", fetcher.fetchCount(), callers)
	}
}

func TestIngestWaitsForInFlightFetch(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	fetcher.entries[42] = storeEntry(42, "Hollow Garden")
	locks := newFakeLocker()
	svc := testIngestService(store, fetcher, locks)

	// Another process holds the fetch lock and persists mid-wait.
	locks.lockDirect("game", "42")
	go func() {
		time.Sleep(10 * time.Millisecond)
		store.put(*mustGame(t, fetcher, 42))
		locks.unlockDirect("game", "42")
	}()

	game, err := svc.Ingest(context.Background(), 42, IngestOptions{SkipEnrichment: true})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if game == nil || game.GameID != 42 {
		t.Fatalf("game = %+v", game)
	}
	if fetcher.fetchCount() != 0 {
		t.Errorf("waiter fetched despite another process's work: %d", fetcher.fetchCount())
	}
}

func TestIngestWaitTimeoutFetchesAnyway(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	fetcher.entries[42] = storeEntry(42, "Hollow Garden")
	locks := newFakeLocker()
	svc := testIngestService(store, fetcher, locks)

	// Lock held for the whole wait budget, no row ever appears.
	locks.lockDirect("game", "42")

	game, err := svc.Ingest(context.Background(), 42, IngestOptions{SkipEnrichment: true})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if game == nil || game.GameID != 42 {
		t.Fatalf("game = %+v", game)
	}
	if fetcher.fetchCount() != 1 {
		t.Errorf("fetches = %d, want 1 from the fetch-anyway fallback", fetcher.fetchCount())
	}
}

func TestIngestFetchFailurePropagatesAndReleasesLock(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	fetcher.err = errors.New("store unreachable")
	locks := newFakeLocker()
	svc := testIngestService(store, fetcher, locks)

	if _, err := svc.Ingest(context.Background(), 42, IngestOptions{SkipEnrichment: true}); err == nil {
		t.Fatal("expected fetch error to propagate")
	}
	if store.count() != 0 {
		t.Error("failed fetch persisted a row")
	}
	if locked, _ := locks.IsLocked(context.Background(), "game", "42"); locked {
		t.Error("lock leaked after failed fetch")
	}
}

func TestIngestNotFoundPropagates(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	svc := testIngestService(store, fetcher, newFakeLocker())

	_, err := svc.Ingest(context.Background(), 999, IngestOptions{SkipEnrichment: true})
	if !errors.Is(err, storeapi.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

type blockingEnricher struct {
	mu     sync.Mutex
	calls  []int64
	err    error
	called chan struct{}
}

func (b *blockingEnricher) Refresh(_ context.Context, gameID int64) error {
	b.mu.Lock()
	b.calls = append(b.calls, gameID)
	b.mu.Unlock()
	if b.called != nil {
		close(b.called)
	}
	return b.err
}

func TestIngestSchedulesDetachedEnrichment(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	fetcher.entries[42] = storeEntry(42, "Hollow Garden")
	svc := testIngestService(store, fetcher, newFakeLocker())

	enricher := &blockingEnricher{called: make(chan struct{})}
	svc.SetEnricher(enricher)

	if _, err := svc.Ingest(context.Background(), 42, IngestOptions{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	select {
	case <-enricher.called:
	case <-time.After(time.Second):
		t.Fatal("enrichment never ran")
	}
}

func TestIngestEnrichmentFailureDoesNotPropagate(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	fetcher.entries[42] = storeEntry(42, "Hollow Garden")
	svc := testIngestService(store, fetcher, newFakeLocker())

	enricher := &blockingEnricher{err: errors.New("enrichment broken"), called: make(chan struct{})}
	svc.SetEnricher(enricher)

	game, err := svc.Ingest(context.Background(), 42, IngestOptions{})
	if err != nil {
		t.Fatalf("enrichment failure leaked into ingest: %v", err)
	}
	if game == nil {
		t.Fatal("no game returned")
	}
	<-enricher.called
}

func TestIngestSkipEnrichment(t *testing.T) {
	store := newFakeGameStore()
	fetcher := newFakeFetcher()
	fetcher.entries[42] = storeEntry(42, "Hollow Garden")
	svc := testIngestService(store, fetcher, newFakeLocker())

	enricher := &blockingEnricher{}
	svc.SetEnricher(enricher)

	if _, err := svc.Ingest(context.Background(), 42, IngestOptions{SkipEnrichment: true}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	enricher.mu.Lock()
	defer enricher.mu.Unlock()
	if len(enricher.calls) != 0 {
		t.Errorf("enrichment ran despite SkipEnrichment: %v", enricher.calls)
	}
}

func mustGame(t *testing.T, fetcher *fakeFetcher, id int64) *models.Game {
	t.Helper()
	fetcher.mu.Lock()
	entry, ok := fetcher.entries[id]
	fetcher.mu.Unlock()
	if !ok {
		t.Fatalf("no entry %d", id)
	}
	return gameFromEntry(entry)
}
