// Package service provides the business logic of the kindred pipeline.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/db"
	"github.com/raphaelgruber/kindred-go/internal/metrics"
	"github.com/raphaelgruber/kindred-go/internal/models"
	"github.com/raphaelgruber/kindred-go/internal/storeapi"
)

const (
	lockResourceGame = "game"
	rateKeyStoreAPI  = "store_api"
)

// GameStore is the persistence surface the services need. *db.Client
// satisfies it; tests use an in-memory fake.
type GameStore interface {
	GetGame(ctx context.Context, gameID int64) (*models.Game, error)
	UpsertGame(ctx context.Context, g *models.Game) (*models.Game, error)
	SaveEnrichment(ctx context.Context, gameID int64, entryType string, facets *models.FacetTexts, embedding []float32) error
	UpdateSuggestions(ctx context.Context, gameID int64, suggested []models.Suggestion) error
	ListTitles(ctx context.Context) ([]db.TitleRow, error)
	GamesReferencing(ctx context.Context, gameID int64) ([]models.Game, error)
}

// Fetcher is the external store surface. *storeapi.Client satisfies it.
type Fetcher interface {
	GetGame(ctx context.Context, gameID int64) (*storeapi.Entry, error)
	Search(ctx context.Context, title string) (*storeapi.SearchHit, error)
}

// Locker is the mutual-exclusion surface. *coord.Locker satisfies it.
type Locker interface {
	Acquire(ctx context.Context, resourceType, resourceID string) (string, bool, error)
	Release(ctx context.Context, resourceType, resourceID, lockID string) error
	IsLocked(ctx context.Context, resourceType, resourceID string) (bool, error)
}

// RateLimiter is the request-spacing surface. *coord.Limiter satisfies it.
type RateLimiter interface {
	Acquire(ctx context.Context, key string, minDelay time.Duration) error
}

// Enricher builds a game's suggestion list. *SuggestService satisfies it;
// the orchestrator only ever calls it detached.
type Enricher interface {
	Refresh(ctx context.Context, gameID int64) error
}

// IngestOptions configures one ingestion call.
type IngestOptions struct {
	// Force refetches and overwrites an existing row.
	Force bool
	// SkipEnrichment suppresses the detached suggestion refresh.
	SkipEnrichment bool
}

// IngestConfig carries the tunable coordination parameters.
type IngestConfig struct {
	StoreMinDelay time.Duration
	WaitAttempts  int
	WaitInterval  time.Duration
}

// IngestService fetches catalog entries exactly once per id under
// concurrent requests, using only the shared store for coordination.
type IngestService struct {
	store   GameStore
	fetcher Fetcher
	locks   Locker
	rate    RateLimiter
	enrich  Enricher
	stats   *metrics.Collector
	log     *slog.Logger
	cfg     IngestConfig
}

func NewIngestService(store GameStore, fetcher Fetcher, locks Locker, rate RateLimiter, stats *metrics.Collector, log *slog.Logger, cfg IngestConfig) *IngestService {
	return &IngestService{
		store:   store,
		fetcher: fetcher,
		locks:   locks,
		rate:    rate,
		stats:   stats,
		log:     log,
		cfg:     cfg,
	}
}

// SetEnricher wires the suggestion pipeline in after construction; the
// enricher itself ingests games, so the two services reference each other.
func (s *IngestService) SetEnricher(enrich Enricher) {
	s.enrich = enrich
}

// Ingest fetches and persists one catalog entry. Concurrent calls for the
// same id coordinate through the lock table:
//
//   - row exists and force is off: return it, no network.
//   - lock free: fetch under the lock, persist, schedule detached
//     enrichment, release.
//   - lock held elsewhere: wait bounded for the other caller's row, then
//     fetch anyway rather than fail (duplicate work beats unavailability).
//
// Fetch failures propagate. Enrichment failures never do.
func (s *IngestService) Ingest(ctx context.Context, gameID int64, opts IngestOptions) (*models.Game, error) {
	if !opts.Force {
		cached, err := s.store.GetGame(ctx, gameID)
		if err != nil {
			return nil, fmt.Errorf("ingest %d: %w", gameID, err)
		}
		if cached != nil {
			return cached, nil
		}
	}

	resourceID := strconv.FormatInt(gameID, 10)
	lockID, acquired, err := s.locks.Acquire(ctx, lockResourceGame, resourceID)
	if err != nil {
		return nil, fmt.Errorf("ingest %d: %w", gameID, err)
	}

	if !acquired {
		if game, err := s.waitForInFlight(ctx, gameID, resourceID); err != nil || game != nil {
			return game, err
		}
		s.log.Warn("in-flight wait timed out, fetching anyway", "game_id", gameID)
		return s.fetchAndPersist(ctx, gameID, opts)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.locks.Release(releaseCtx, lockResourceGame, resourceID, lockID); err != nil {
			s.log.Warn("lock release failed, will expire by TTL", "game_id", gameID, "error", err)
		}
	}()

	return s.fetchAndPersist(ctx, gameID, opts)
}

// waitForInFlight polls while another process holds the fetch lock. Returns
// the row once the holder persisted it, or (nil, nil) when the wait budget
// ran out or the holder vanished without a row.
func (s *IngestService) waitForInFlight(ctx context.Context, gameID int64, resourceID string) (*models.Game, error) {
	for i := 0; i < s.cfg.WaitAttempts; i++ {
		locked, err := s.locks.IsLocked(ctx, lockResourceGame, resourceID)
		if err != nil {
			return nil, fmt.Errorf("ingest %d: %w", gameID, err)
		}
		if !locked {
			game, err := s.store.GetGame(ctx, gameID)
			if err != nil {
				return nil, fmt.Errorf("ingest %d: %w", gameID, err)
			}
			return game, nil
		}

		timer := time.NewTimer(s.cfg.WaitInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, nil
}

func (s *IngestService) fetchAndPersist(ctx context.Context, gameID int64, opts IngestOptions) (*models.Game, error) {
	if err := s.rate.Acquire(ctx, rateKeyStoreAPI, s.cfg.StoreMinDelay); err != nil {
		return nil, fmt.Errorf("ingest %d: %w", gameID, err)
	}

	start := time.Now()
	entry, err := s.fetcher.GetGame(ctx, gameID)
	if err != nil {
		s.stats.RecordError(metrics.OpStoreFetch)
		return nil, fmt.Errorf("ingest %d: %w", gameID, err)
	}
	s.stats.RecordTiming(metrics.OpStoreFetch, time.Since(start))

	game, err := s.store.UpsertGame(ctx, gameFromEntry(entry))
	if err != nil {
		return nil, fmt.Errorf("ingest %d: %w", gameID, err)
	}
	s.log.Info("game ingested", "game_id", gameID, "title", game.Title, "force", opts.Force)

	if !opts.SkipEnrichment && s.enrich != nil {
		detach(s.log, "enrichment", gameID, func(ctx context.Context) error {
			return s.enrich.Refresh(ctx, gameID)
		})
	}
	return game, nil
}

func gameFromEntry(entry *storeapi.Entry) *models.Game {
	return &models.Game{
		GameID:      entry.GameID,
		Title:       entry.Title,
		ShortText:   entry.ShortText,
		Text:        entry.Text,
		URL:         entry.URL,
		CoverURL:    entry.CoverURL,
		Screenshots: entry.Screenshots,
		Tags:        entry.Tags,
		Developers:  entry.Developers,
	}
}
