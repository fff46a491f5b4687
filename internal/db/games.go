// Package db provides SurrealDB query functions for catalog operations.
package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/kindred-go/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// TitleRow is a minimal (id, title) projection used to build the
// resolver's title cache.
type TitleRow struct {
	GameID int64  `json:"game_id"`
	Title  string `json:"title"`
}

// NearestRow is one nearest-neighbor result, ordered by descending
// cosine similarity.
type NearestRow struct {
	GameID int64   `json:"game_id"`
	Title  string  `json:"title"`
	Score  float64 `json:"score"`
}

// UpsertGame creates or overwrites the identity and display fields of a
// game row keyed by its external store id. Enrichment fields (entry_type,
// facets, embedding, suggested) are written by their own queries and are
// not touched here, so a forced re-ingest does not wipe prior enrichment.
func (c *Client) UpsertGame(ctx context.Context, g *models.Game) (*models.Game, error) {
	sql := `
		UPSERT type::record("game", $id) SET
			game_id = $id,
			title = $title,
			short_text = $short_text,
			text = $text,
			url = $url,
			cover_url = $cover_url,
			screenshots = $screenshots,
			tags = $tags,
			developers = $developers,
			updated = time::now(),
			created = IF created THEN created ELSE time::now() END
		RETURN AFTER
	`

	results, err := surrealdb.Query[[]models.Game](ctx, c.db, sql, map[string]any{
		"id":          g.GameID,
		"title":       g.Title,
		"short_text":  g.ShortText,
		"text":        g.Text,
		"url":         g.URL,
		"cover_url":   g.CoverURL,
		"screenshots": emptyIfNil(g.Screenshots),
		"tags":        emptyIfNil(g.Tags),
		"developers":  emptyIfNil(g.Developers),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert game: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("upsert game: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetGame retrieves a game by its external store id.
// Returns nil if not found.
func (c *Client) GetGame(ctx context.Context, gameID int64) (*models.Game, error) {
	results, err := surrealdb.Query[[]models.Game](ctx, c.db, `
		SELECT * FROM type::record("game", $id)
	`, map[string]any{"id": gameID})
	if err != nil {
		return nil, fmt.Errorf("get game: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// SaveEnrichment stores the classification, facet texts and description
// embedding for a game.
func (c *Client) SaveEnrichment(ctx context.Context, gameID int64, entryType string, facets *models.FacetTexts, embedding []float32) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("game", $id) SET
			entry_type = $entry_type,
			facets = $facets,
			embedding = $embedding,
			updated = time::now()
	`, map[string]any{
		"id":         gameID,
		"entry_type": entryType,
		"facets":     facets,
		"embedding":  embedding,
	})
	if err != nil {
		return fmt.Errorf("save enrichment: %w", err)
	}
	return nil
}

// UpdateSuggestions replaces the persisted similar-games list of a game.
func (c *Client) UpdateSuggestions(ctx context.Context, gameID int64, suggested []models.Suggestion) error {
	if suggested == nil {
		suggested = []models.Suggestion{}
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("game", $id) SET
			suggested = $suggested,
			updated = time::now()
	`, map[string]any{
		"id":        gameID,
		"suggested": suggested,
	})
	if err != nil {
		return fmt.Errorf("update suggestions: %w", err)
	}
	return nil
}

// ListTitles returns (game_id, title) for every stored game. Feeds the
// resolver's in-memory title index.
func (c *Client) ListTitles(ctx context.Context) ([]TitleRow, error) {
	results, err := surrealdb.Query[[]TitleRow](ctx, c.db, `
		SELECT game_id, title FROM game
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []TitleRow{}, nil
	}
	return (*results)[0].Result, nil
}

// GamesReferencing returns every game whose suggestion list mentions the
// given external id. Used by the self-healing sweep; the query hits the
// whole table but filters server-side.
func (c *Client) GamesReferencing(ctx context.Context, gameID int64) ([]models.Game, error) {
	results, err := surrealdb.Query[[]models.Game](ctx, c.db, `
		SELECT * FROM game WHERE suggested[*].game_id CONTAINS $target
	`, map[string]any{"target": gameID})
	if err != nil {
		return nil, fmt.Errorf("games referencing: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Game{}, nil
	}
	return (*results)[0].Result, nil
}

// Nearest runs a KNN query over the description embeddings, filtered by a
// minimum cosine similarity, ordered by descending score. This is the thin
// read path the presentation layer queries directly.
func (c *Client) Nearest(ctx context.Context, embedding []float32, limit int, minScore float64) ([]NearestRow, error) {
	if limit <= 0 {
		limit = 10
	}

	// KNN operator arguments must be literals, so the candidate count is
	// formatted in. ef=40 mirrors the index definition's search quality.
	sql := fmt.Sprintf(`
		SELECT * FROM (
			SELECT game_id, title, vector::similarity::cosine(embedding, $emb) AS score
			FROM game
			WHERE embedding <|%d,40|> $emb
		) WHERE score >= $min ORDER BY score DESC
	`, limit)

	results, err := surrealdb.Query[[]NearestRow](ctx, c.db, sql, map[string]any{
		"emb": embedding,
		"min": minScore,
	})
	if err != nil {
		return nil, fmt.Errorf("nearest: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []NearestRow{}, nil
	}
	return (*results)[0].Result, nil
}

// CountGames returns the number of stored catalog entries.
func (c *Client) CountGames(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]struct {
		Count int `json:"count"`
	}](ctx, c.db, `SELECT count() AS count FROM game GROUP ALL`, nil)
	if err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
