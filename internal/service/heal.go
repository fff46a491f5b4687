package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/models"
	"github.com/raphaelgruber/kindred-go/internal/storeapi"
)

// HealService repairs suggestion lists that reference ids the store no
// longer serves. The same bad id may be referenced by many games, so
// healing always sweeps every referencing entry, not just the one that
// tripped over it.
type HealService struct {
	store   GameStore
	fetcher Fetcher
	ingest  IngestFunc
	log     *slog.Logger

	rate         RateLimiter
	rateMinDelay time.Duration
}

func NewHealService(store GameStore, fetcher Fetcher, log *slog.Logger) *HealService {
	return &HealService{store: store, fetcher: fetcher, log: log}
}

// SetIngest wires the follow-up ingestion of a corrected id.
func (h *HealService) SetIngest(fn IngestFunc) { h.ingest = fn }

// SetRateLimiter spaces the per-id store lookups a full Sweep makes.
func (h *HealService) SetRateLimiter(rate RateLimiter, minDelay time.Duration) {
	h.rate = rate
	h.rateMinDelay = minDelay
}

// HealStaleReference re-resolves a dead id by its stored title. When the
// search finds a replacement id, every referencing game is rewritten to it
// and the replacement is ingested; when it finds nothing, the stale
// reference is removed everywhere. Idempotent: a second run finds no
// referencing games and does nothing.
func (h *HealService) HealStaleReference(ctx context.Context, staleID int64, title string) error {
	var correctedID *int64
	hit, err := h.fetcher.Search(ctx, title)
	if err != nil {
		return fmt.Errorf("heal %d: %w", staleID, err)
	}
	if hit != nil && hit.GameID != staleID {
		correctedID = &hit.GameID
	}

	referencing, err := h.store.GamesReferencing(ctx, staleID)
	if err != nil {
		return fmt.Errorf("heal %d: %w", staleID, err)
	}

	for i := range referencing {
		game := &referencing[i]
		rewritten := rewriteSuggestions(game.Suggested, staleID, correctedID)
		if err := h.store.UpdateSuggestions(ctx, game.GameID, rewritten); err != nil {
			return fmt.Errorf("heal %d: rewrite game %d: %w", staleID, game.GameID, err)
		}
	}

	if correctedID != nil {
		h.log.Info("stale reference corrected",
			"stale_id", staleID, "corrected_id", *correctedID, "games_rewritten", len(referencing))
		if h.ingest != nil {
			if err := h.ingest(ctx, *correctedID); err != nil {
				h.log.Warn("corrected game ingestion failed",
					"game_id", *correctedID, "error", err)
			}
		}
	} else {
		h.log.Info("stale reference removed",
			"stale_id", staleID, "games_rewritten", len(referencing))
	}
	return nil
}

// SweepReport summarizes a full validation sweep.
type SweepReport struct {
	GamesScanned int
	IDsChecked   int
	Healed       int
	Errors       []string
}

// Sweep validates every suggested id in the catalog against the external
// store and heals the dead ones. Each distinct id is checked once per run,
// paced by the shared rate limit when one is wired.
func (h *HealService) Sweep(ctx context.Context) (*SweepReport, error) {
	titles, err := h.store.ListTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	report := &SweepReport{}
	referenced := make(map[int64]string)
	for _, row := range titles {
		game, err := h.store.GetGame(ctx, row.GameID)
		if err != nil {
			return nil, fmt.Errorf("sweep: load game %d: %w", row.GameID, err)
		}
		if game == nil || len(game.Suggested) == 0 {
			continue
		}
		report.GamesScanned++
		for _, s := range game.Suggested {
			if _, seen := referenced[s.GameID]; !seen {
				referenced[s.GameID] = s.Title
			}
		}
	}

	for id, title := range referenced {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if h.rate != nil {
			if err := h.rate.Acquire(ctx, rateKeyStoreAPI, h.rateMinDelay); err != nil {
				return report, fmt.Errorf("sweep: %w", err)
			}
		}

		report.IDsChecked++
		_, err := h.fetcher.GetGame(ctx, id)
		switch {
		case err == nil:
			continue
		case errors.Is(err, storeapi.ErrNotFound):
			if healErr := h.HealStaleReference(ctx, id, title); healErr != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("game %d: %v", id, healErr))
				continue
			}
			report.Healed++
		default:
			report.Errors = append(report.Errors, fmt.Sprintf("game %d: %v", id, err))
		}
	}

	h.log.Info("validation sweep finished",
		"games_scanned", report.GamesScanned, "ids_checked", report.IDsChecked,
		"healed", report.Healed, "errors", len(report.Errors))
	return report, nil
}

// rewriteSuggestions replaces or drops every occurrence of staleID. When a
// correction collides with an id already in the list, the occurrence is
// dropped instead of duplicated.
func rewriteSuggestions(suggested []models.Suggestion, staleID int64, correctedID *int64) []models.Suggestion {
	present := make(map[int64]bool, len(suggested))
	for _, s := range suggested {
		if s.GameID != staleID {
			present[s.GameID] = true
		}
	}

	out := make([]models.Suggestion, 0, len(suggested))
	for _, s := range suggested {
		if s.GameID != staleID {
			out = append(out, s)
			continue
		}
		if correctedID == nil || present[*correctedID] {
			continue
		}
		s.GameID = *correctedID
		present[*correctedID] = true
		out = append(out, s)
	}
	return out
}
