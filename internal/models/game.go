// Package models defines data structures for the Kindred catalog database.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Game represents a catalog entry fetched from the external store,
// enriched with similarity signals over time.
type Game struct {
	ID     surrealmodels.RecordID `json:"id"`
	GameID int64                  `json:"game_id"`

	Title      string   `json:"title"`
	ShortText  *string  `json:"short_text,omitempty"`
	Text       *string  `json:"text,omitempty"`
	URL        *string  `json:"url,omitempty"`
	CoverURL   *string  `json:"cover_url,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Developers []string `json:"developers,omitempty"`

	// Enrichment fields, populated by the suggestion pipeline.
	EntryType *string      `json:"entry_type,omitempty"`
	Facets    *FacetTexts  `json:"facets,omitempty"`
	Embedding []float32    `json:"embedding,omitempty"`
	Suggested []Suggestion `json:"suggested,omitempty"`

	Created time.Time `json:"created,omitempty"`
	Updated time.Time `json:"updated,omitempty"`
}

// FacetTexts holds short per-facet descriptions of a game, generated once
// per entry and compared pairwise during scoring.
type FacetTexts struct {
	Tone         string `json:"tone,omitempty"`
	Presentation string `json:"presentation,omitempty"`
	Theme        string `json:"theme,omitempty"`
	Mechanics    string `json:"mechanics,omitempty"`
	Intent       string `json:"intent,omitempty"`
}

// Suggestion is one entry of a game's persisted similar-games list.
type Suggestion struct {
	GameID int64   `json:"game_id"`
	Title  string  `json:"title"`
	Reason string  `json:"reason,omitempty"`
	Score  float64 `json:"score,omitempty"`
	Grade  string  `json:"grade,omitempty"`
}

// LockRecord is a row of the locks table. At most one live (non-expired)
// record exists per key; the record ID is the lock key itself.
type LockRecord struct {
	ID       surrealmodels.RecordID `json:"id"`
	LockID   string                 `json:"lock_id"`
	Acquired time.Time              `json:"acquired"`
	Expires  time.Time              `json:"expires"`
}

// RateLimitRecord is a row of the rate_limit table, one per limited
// dependency. Upserted on every accepted acquisition, never deleted.
type RateLimitRecord struct {
	ID          surrealmodels.RecordID `json:"id"`
	LastRequest time.Time              `json:"last_request"`
}
