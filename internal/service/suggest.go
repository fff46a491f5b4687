package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/llm"
	"github.com/raphaelgruber/kindred-go/internal/metrics"
	"github.com/raphaelgruber/kindred-go/internal/models"
	"github.com/raphaelgruber/kindred-go/internal/resolve"
	"github.com/raphaelgruber/kindred-go/internal/scoring"
	"github.com/raphaelgruber/kindred-go/internal/similar"
	"github.com/raphaelgruber/kindred-go/internal/storeapi"
)

// CandidateEngine is the generation/curation surface. *similar.Engine
// satisfies it.
type CandidateEngine interface {
	Generate(ctx context.Context, game *models.Game) (map[string][]models.Candidate, error)
	Curate(ctx context.Context, game *models.Game, merged []models.MergedCandidate) []models.MergedCandidate
}

// Classifier derives the type profile used for weighting. *scoring.Classifier
// satisfies it.
type Classifier interface {
	Classify(ctx context.Context, game *models.Game) scoring.Profile
}

// FacetGrader produces pairwise facet scores. *scoring.Grader satisfies it.
type FacetGrader interface {
	GradeFacets(ctx context.Context, source, candidate *models.Game) (scoring.FacetScores, error)
}

// Embedder turns facet text into a vector. *llm.Embedder satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator is the raw text-generation surface. *llm.Model satisfies it.
type Generator interface {
	GenerateWithSystem(ctx context.Context, system, prompt string) (string, error)
}

// Healer corrects or removes a stale suggestion reference everywhere.
// *HealService satisfies it.
type Healer interface {
	HealStaleReference(ctx context.Context, staleID int64, title string) error
}

// IngestFunc ingests one game by id without enrichment, used to make
// freshly resolved suggestions present in the catalog.
type IngestFunc func(ctx context.Context, gameID int64) error

// SuggestService builds and persists a game's ranked similar-games list.
// This is the enrichment work the ingestion orchestrator detaches.
type SuggestService struct {
	store      GameStore
	fetcher    Fetcher
	engine     CandidateEngine
	classifier Classifier
	grader     FacetGrader
	embedder   Embedder
	model      Generator
	stats      *metrics.Collector
	log        *slog.Logger

	topK            int
	curationEnabled bool

	healer Healer
	ingest IngestFunc
}

func NewSuggestService(
	store GameStore,
	fetcher Fetcher,
	engine CandidateEngine,
	classifier Classifier,
	grader FacetGrader,
	embedder Embedder,
	model Generator,
	stats *metrics.Collector,
	log *slog.Logger,
	topK int,
	curationEnabled bool,
) *SuggestService {
	return &SuggestService{
		store:           store,
		fetcher:         fetcher,
		engine:          engine,
		classifier:      classifier,
		grader:          grader,
		embedder:        embedder,
		model:           model,
		stats:           stats,
		log:             log,
		topK:            topK,
		curationEnabled: curationEnabled,
	}
}

// SetHealer wires the stale-reference correction path.
func (s *SuggestService) SetHealer(healer Healer) { s.healer = healer }

// SetIngest wires the follow-up ingestion of resolved suggestion ids.
func (s *SuggestService) SetIngest(fn IngestFunc) { s.ingest = fn }

// Refresh rebuilds the suggestion list for one game: generate candidates,
// merge, curate, resolve against the store, score, persist. Hallucinated
// titles are dropped before persistence.
func (s *SuggestService) Refresh(ctx context.Context, gameID int64) error {
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("refresh %d: %w", gameID, err)
	}
	if game == nil {
		return fmt.Errorf("refresh %d: game not ingested", gameID)
	}

	profile := s.ensureEnrichment(ctx, game)

	byStrategy, err := s.engine.Generate(ctx, game)
	if err != nil {
		return fmt.Errorf("refresh %d: %w", gameID, err)
	}

	merged := similar.Merge(game.Title, byStrategy)
	if len(merged) == 0 {
		s.log.Warn("no candidates survived merging", "game_id", gameID)
		return nil
	}
	if s.curationEnabled {
		merged = s.engine.Curate(ctx, game, merged)
	}

	validated, err := s.resolveCandidates(ctx, game, merged)
	if err != nil {
		return fmt.Errorf("refresh %d: %w", gameID, err)
	}
	if len(validated) == 0 {
		s.log.Warn("every candidate was a hallucination", "game_id", gameID)
		return nil
	}

	suggestions, err := s.scoreCandidates(ctx, game, profile, validated)
	if err != nil {
		return fmt.Errorf("refresh %d: %w", gameID, err)
	}
	if len(suggestions) > s.topK {
		suggestions = suggestions[:s.topK]
	}

	if err := s.store.UpdateSuggestions(ctx, gameID, suggestions); err != nil {
		return fmt.Errorf("refresh %d: %w", gameID, err)
	}
	s.log.Info("suggestions refreshed", "game_id", gameID, "count", len(suggestions))

	s.ensureSuggestedIngested(ctx, suggestions)
	return nil
}

const facetSystem = `You describe games facet by facet for a similarity index. You respond with strict JSON only, no prose, no markdown fences.`

// ensureEnrichment makes sure the game carries a type, facet texts, and a
// facet embedding. Each part is best-effort; the returned profile is always
// usable.
func (s *SuggestService) ensureEnrichment(ctx context.Context, game *models.Game) scoring.Profile {
	profile := s.classifier.Classify(ctx, game)

	if game.Facets != nil && game.EntryType != nil {
		return profile
	}

	facets, err := s.generateFacets(ctx, game)
	if err != nil {
		s.log.Warn("facet generation failed, scoring without facet texts",
			"game_id", game.GameID, "error", err)
		return profile
	}

	var embedding []float32
	start := time.Now()
	embedding, err = s.embedder.Embed(ctx, facetEmbedText(game.Title, facets))
	if err != nil {
		s.stats.RecordError(metrics.OpEmbedding)
		s.log.Warn("facet embedding failed", "game_id", game.GameID, "error", err)
		embedding = nil
	} else {
		s.stats.RecordTiming(metrics.OpEmbedding, time.Since(start))
	}

	if err := s.store.SaveEnrichment(ctx, game.GameID, string(profile.PrimaryType), facets, embedding); err != nil {
		s.log.Warn("enrichment save failed", "game_id", game.GameID, "error", err)
		return profile
	}
	game.Facets = facets
	entryType := string(profile.PrimaryType)
	game.EntryType = &entryType
	return profile
}

func (s *SuggestService) generateFacets(ctx context.Context, game *models.Game) (*models.FacetTexts, error) {
	prompt := fmt.Sprintf(`Describe this game in one sentence per facet.

Title: %s
Description: %s
Tags: %s

Facets: tone (mood and atmosphere), presentation (art and sound), theme (subject and setting), mechanics (what the player does), intent (what the work is going for artistically).

Respond with a JSON object of exactly this shape:
{"tone": "...", "presentation": "...", "theme": "...", "mechanics": "...", "intent": "..."}`,
		game.Title, derefOr(game.ShortText, ""), strings.Join(game.Tags, ", "))

	start := time.Now()
	response, err := s.model.GenerateWithSystem(ctx, facetSystem, prompt)
	if err != nil {
		s.stats.RecordError(metrics.OpLLMGenerate)
		return nil, err
	}
	s.stats.RecordTiming(metrics.OpLLMGenerate, time.Since(start))

	var facets models.FacetTexts
	if err := llm.ExtractJSONObject(response, &facets); err != nil {
		return nil, err
	}
	return &facets, nil
}

func facetEmbedText(title string, facets *models.FacetTexts) string {
	parts := []string{title}
	for _, p := range []string{facets.Tone, facets.Presentation, facets.Theme, facets.Mechanics, facets.Intent} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ". ")
}

// resolveCandidates maps candidate titles to store ids. Search failures
// degrade the candidate to unresolved instead of failing the batch; only
// building the title cache can error.
func (s *SuggestService) resolveCandidates(ctx context.Context, game *models.Game, merged []models.MergedCandidate) ([]models.ValidatedSuggestion, error) {
	titles, err := s.store.ListTitles(ctx)
	if err != nil {
		return nil, err
	}
	known := make([]resolve.CachedTitle, len(titles))
	for i, t := range titles {
		known[i] = resolve.CachedTitle{GameID: t.GameID, Title: t.Title}
	}
	resolver := resolve.NewResolver(known, s.fetcher, s.log)

	// Each unresolved-by-cache candidate costs a store search; bound the
	// batch to what scoring can use.
	window := merged
	if limit := s.topK * 2; len(window) > limit {
		window = window[:limit]
	}

	seen := make(map[int64]bool)
	validated := make([]models.ValidatedSuggestion, 0, len(window))
	for _, m := range window {
		id, source, err := resolver.Resolve(ctx, m.Title)
		if err != nil {
			s.stats.RecordError(metrics.OpStoreSearch)
			s.log.Warn("resolution failed, dropping candidate",
				"game_id", game.GameID, "title", m.Title, "error", err)
			continue
		}
		if id == nil {
			s.log.Debug("hallucinated candidate dropped",
				"game_id", game.GameID, "title", m.Title)
			continue
		}
		if *id == game.GameID || seen[*id] {
			continue
		}
		seen[*id] = true
		validated = append(validated, models.ValidatedSuggestion{
			MergedCandidate: m,
			GameID:          id,
			Source:          source,
		})
	}
	return validated, nil
}

// scoreCandidates grades each validated candidate against the source and
// orders by the gated total, with the profile-weighted affinity breaking
// ties. A fatal provider error aborts the batch; other grading failures
// drop only the one candidate.
func (s *SuggestService) scoreCandidates(ctx context.Context, game *models.Game, profile scoring.Profile, validated []models.ValidatedSuggestion) ([]models.Suggestion, error) {
	type scored struct {
		suggestion models.Suggestion
		total      float64
		affinity   float64
	}

	results := make([]scored, 0, len(validated))
	for _, v := range validated {
		candidate, err := s.store.GetGame(ctx, *v.GameID)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			// Not ingested yet; grade from the title alone.
			candidate = &models.Game{GameID: *v.GameID, Title: v.Title}
		}

		start := time.Now()
		facetScores, err := s.grader.GradeFacets(ctx, game, candidate)
		if err != nil {
			s.stats.RecordError(metrics.OpLLMGenerate)
			if errors.Is(err, llm.ErrFatalAPI) {
				return nil, err
			}
			s.log.Warn("facet grading failed, dropping candidate",
				"game_id", game.GameID, "candidate", candidate.GameID, "error", err)
			continue
		}
		s.stats.RecordTiming(metrics.OpLLMGenerate, time.Since(start))

		result := scoring.Score(facetScores)
		reason := ""
		if len(v.Reasons) > 0 {
			reason = v.Reasons[0]
		}
		results = append(results, scored{
			suggestion: models.Suggestion{
				GameID: *v.GameID,
				Title:  candidate.Title,
				Reason: reason,
				Score:  result.Total,
				Grade:  result.Grade,
			},
			total:    result.Total,
			affinity: profile.WeightedAffinity(facetScores),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].total != results[j].total {
			return results[i].total > results[j].total
		}
		return results[i].affinity > results[j].affinity
	})

	suggestions := make([]models.Suggestion, len(results))
	for i, r := range results {
		suggestions[i] = r.suggestion
	}
	return suggestions, nil
}

// ensureSuggestedIngested ingests suggestion targets missing from the
// catalog. A target the store no longer serves is a stale reference and
// goes through the healing sweep.
func (s *SuggestService) ensureSuggestedIngested(ctx context.Context, suggestions []models.Suggestion) {
	if s.ingest == nil {
		return
	}
	for _, sug := range suggestions {
		existing, err := s.store.GetGame(ctx, sug.GameID)
		if err != nil || existing != nil {
			continue
		}
		if err := s.ingest(ctx, sug.GameID); err != nil {
			if errors.Is(err, storeapi.ErrNotFound) && s.healer != nil {
				s.log.Warn("suggested game vanished from store, healing",
					"game_id", sug.GameID, "title", sug.Title)
				if healErr := s.healer.HealStaleReference(ctx, sug.GameID, sug.Title); healErr != nil {
					s.log.Warn("healing failed", "game_id", sug.GameID, "error", healErr)
				}
				continue
			}
			s.log.Warn("suggested game ingestion failed",
				"game_id", sug.GameID, "error", err)
		}
	}
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
