// Package resolve maps candidate titles back to external store ids. A title
// that resolves neither against the local cache nor the store's search is a
// hallucination and never reaches the persisted suggestion list.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/raphaelgruber/kindred-go/internal/models"
	"github.com/raphaelgruber/kindred-go/internal/storeapi"
)

// minSubstringLen guards the fuzzy path: short normalized titles match too
// many unrelated entries by containment.
const minSubstringLen = 5

// Searcher is the store lookup surface. *storeapi.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, title string) (*storeapi.SearchHit, error)
}

// CachedTitle is one known (title, id) pair, usually loaded from the games
// table in one query before a resolution batch.
type CachedTitle struct {
	GameID int64
	Title  string
}

// Resolver resolves titles cache-first, search-second.
type Resolver struct {
	exact  map[string]int64
	titles []CachedTitle
	search Searcher
	log    *slog.Logger
}

// NewResolver builds a resolver over a snapshot of known titles. The
// snapshot is not refreshed; callers build a fresh resolver per batch.
func NewResolver(known []CachedTitle, search Searcher, log *slog.Logger) *Resolver {
	exact := make(map[string]int64, len(known))
	titles := make([]CachedTitle, 0, len(known))
	for _, k := range known {
		key := models.NormalizeTitle(k.Title)
		if key == "" {
			continue
		}
		if _, dup := exact[key]; !dup {
			exact[key] = k.GameID
		}
		titles = append(titles, CachedTitle{GameID: k.GameID, Title: key})
	}
	sort.Slice(titles, func(i, j int) bool { return titles[i].Title < titles[j].Title })

	return &Resolver{exact: exact, titles: titles, search: search, log: log}
}

// Resolve returns the external id for a title, or (nil, unresolved) for a
// hallucination candidate. Only the search path can error; cache misses are
// not errors.
func (r *Resolver) Resolve(ctx context.Context, title string) (*int64, models.ResolutionSource, error) {
	key := models.NormalizeTitle(title)
	if key == "" {
		return nil, models.ResolutionUnresolved, nil
	}

	if id, ok := r.exact[key]; ok {
		return &id, models.ResolutionCache, nil
	}
	if id, ok := r.substringMatch(key); ok {
		return &id, models.ResolutionCache, nil
	}

	hit, err := r.search.Search(ctx, title)
	if err != nil {
		return nil, models.ResolutionUnresolved, fmt.Errorf("resolve %q: %w", title, err)
	}
	if hit == nil {
		r.log.Debug("title unresolved", "title", title)
		return nil, models.ResolutionUnresolved, nil
	}
	return &hit.GameID, models.ResolutionSearch, nil
}

// substringMatch accepts a cached title containing the query or contained
// by it. Sorted iteration keeps the winner deterministic when several
// cached titles qualify.
func (r *Resolver) substringMatch(key string) (int64, bool) {
	if len(key) < minSubstringLen {
		return 0, false
	}
	for _, t := range r.titles {
		if len(t.Title) < minSubstringLen {
			continue
		}
		if strings.Contains(t.Title, key) || strings.Contains(key, t.Title) {
			return t.GameID, true
		}
	}
	return 0, false
}
