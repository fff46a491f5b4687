package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/db"
	"github.com/raphaelgruber/kindred-go/internal/metrics"
	"github.com/raphaelgruber/kindred-go/internal/models"
	"github.com/raphaelgruber/kindred-go/internal/storeapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGameStore is an in-memory GameStore with the same last-writer-wins
// upsert semantics as the real table.
type fakeGameStore struct {
	mu      sync.Mutex
	games   map[int64]models.Game
	upserts int
}

func newFakeGameStore() *fakeGameStore {
	return &fakeGameStore{games: make(map[int64]models.Game)}
}

func (f *fakeGameStore) GetGame(_ context.Context, gameID int64) (*models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.games[gameID]; ok {
		out := g
		return &out, nil
	}
	return nil, nil
}

func (f *fakeGameStore) UpsertGame(_ context.Context, g *models.Game) (*models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	stored := *g
	if prev, ok := f.games[g.GameID]; ok {
		// Identity upserts preserve enrichment, like the real query.
		stored.EntryType = prev.EntryType
		stored.Facets = prev.Facets
		stored.Embedding = prev.Embedding
		stored.Suggested = prev.Suggested
	}
	f.games[g.GameID] = stored
	out := stored
	return &out, nil
}

func (f *fakeGameStore) SaveEnrichment(_ context.Context, gameID int64, entryType string, facets *models.FacetTexts, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.games[gameID]
	g.EntryType = &entryType
	g.Facets = facets
	g.Embedding = embedding
	f.games[gameID] = g
	return nil
}

func (f *fakeGameStore) UpdateSuggestions(_ context.Context, gameID int64, suggested []models.Suggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.games[gameID]
	g.Suggested = suggested
	f.games[gameID] = g
	return nil
}

func (f *fakeGameStore) ListTitles(_ context.Context) ([]db.TitleRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]db.TitleRow, 0, len(f.games))
	for _, g := range f.games {
		rows = append(rows, db.TitleRow{GameID: g.GameID, Title: g.Title})
	}
	return rows, nil
}

func (f *fakeGameStore) GamesReferencing(_ context.Context, gameID int64) ([]models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Game
	for _, g := range f.games {
		for _, s := range g.Suggested {
			if s.GameID == gameID {
				out = append(out, g)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeGameStore) put(g models.Game) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.games[g.GameID] = g
}

func (f *fakeGameStore) get(gameID int64) (models.Game, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[gameID]
	return g, ok
}

func (f *fakeGameStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.games)
}

// fakeFetcher serves entries from a map and counts fetches.
type fakeFetcher struct {
	mu      sync.Mutex
	entries map[int64]*storeapi.Entry
	hits    map[string]*storeapi.SearchHit
	fetches int
	err     error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		entries: make(map[int64]*storeapi.Entry),
		hits:    make(map[string]*storeapi.SearchHit),
	}
}

func (f *fakeFetcher) GetGame(_ context.Context, gameID int64) (*storeapi.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	if e, ok := f.entries[gameID]; ok {
		out := *e
		return &out, nil
	}
	return nil, storeapi.ErrNotFound
}

func (f *fakeFetcher) Search(_ context.Context, title string) (*storeapi.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[title], nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// fakeLocker mirrors the lock table's atomicity in memory.
type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]string
	next  int
	waits int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (f *fakeLocker) Acquire(_ context.Context, resourceType, resourceID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := models.LockKey(resourceType, resourceID)
	if _, ok := f.held[key]; ok {
		return "", false, nil
	}
	f.next++
	id := string(rune('a' + f.next%26))
	f.held[key] = id
	return id, true, nil
}

func (f *fakeLocker) Release(_ context.Context, resourceType, resourceID, lockID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := models.LockKey(resourceType, resourceID)
	if f.held[key] == lockID {
		delete(f.held, key)
	}
	return nil
}

func (f *fakeLocker) IsLocked(_ context.Context, resourceType, resourceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits++
	_, ok := f.held[models.LockKey(resourceType, resourceID)]
	return ok, nil
}

func (f *fakeLocker) lockDirect(resourceType, resourceID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := models.LockKey(resourceType, resourceID)
	f.held[key] = "external"
	return "external"
}

func (f *fakeLocker) unlockDirect(resourceType, resourceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, models.LockKey(resourceType, resourceID))
}

// fakeRate is a no-wait rate limiter that counts acquisitions.
type fakeRate struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRate) Acquire(_ context.Context, _ string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeRate) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testIngestService(store *fakeGameStore, fetcher *fakeFetcher, locks *fakeLocker) *IngestService {
	return NewIngestService(store, fetcher, locks, &fakeRate{}, metrics.NewCollector(), testLogger(), IngestConfig{
		StoreMinDelay: time.Millisecond,
		WaitAttempts:  5,
		WaitInterval:  5 * time.Millisecond,
	})
}

func storeEntry(id int64, title string) *storeapi.Entry {
	short := "short text for " + title
	return &storeapi.Entry{
		GameID:    id,
		Title:     title,
		ShortText: &short,
		Tags:      []string{"indie"},
	}
}
