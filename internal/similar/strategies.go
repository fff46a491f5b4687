// Package similar generates, merges, and curates similar-game candidates.
// Multiple independent LLM strategies each propose a candidate list; the
// merge step folds them into a consensus ranking and an optional curation
// pass reorders the head of that ranking.
package similar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/llm"
	"github.com/raphaelgruber/kindred-go/internal/models"
)

// Generator is the LLM surface the engine needs. *llm.Model satisfies it.
type Generator interface {
	GenerateWithSystem(ctx context.Context, system, prompt string) (string, error)
}

const (
	candidatesPerStrategy = 12
	strategyAttempts      = 2
	strategyBackoff       = 2 * time.Second
)

const strategySystem = `You are a game recommendation expert with deep knowledge of indie and mainstream games across all platforms. You respond with strict JSON only, no prose, no markdown fences.`

// Strategy is one independent angle of candidate generation. Strategies
// never see each other's output; agreement between them is established
// later by the merge step.
type Strategy struct {
	Name        string
	buildPrompt func(game *models.Game) string
}

func strategies() []Strategy {
	return []Strategy{
		{
			Name: "tone",
			buildPrompt: func(game *models.Game) string {
				return fmt.Sprintf(`List %d games whose tone, mood, and atmosphere feel closest to the game below. Judge by emotional register and aesthetic, not by genre labels.

%s

Respond with a JSON array of exactly this shape:
[{"title": "Game Title", "reason": "one sentence on the shared tone"}]`,
					candidatesPerStrategy, describeGame(game))
			},
		},
		{
			Name: "mechanics",
			buildPrompt: func(game *models.Game) string {
				return fmt.Sprintf(`List %d games whose core mechanics and moment-to-moment interaction loop are closest to the game below. Judge by what the player actually does, not by theme or setting.

%s

Respond with a JSON array of exactly this shape:
[{"title": "Game Title", "reason": "one sentence on the shared mechanics"}]`,
					candidatesPerStrategy, describeGame(game))
			},
		},
		{
			Name: "community",
			buildPrompt: func(game *models.Game) string {
				return fmt.Sprintf(`List %d games that players and communities who love the game below most often recommend alongside it. Think of forum threads, reviews, and "if you liked X" lists.

%s

Respond with a JSON array of exactly this shape:
[{"title": "Game Title", "reason": "one sentence on why its audience overlaps"}]`,
					candidatesPerStrategy, describeGame(game))
			},
		},
	}
}

func describeGame(game *models.Game) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", game.Title)
	if game.ShortText != nil && *game.ShortText != "" {
		fmt.Fprintf(&b, "Description: %s\n", *game.ShortText)
	}
	if len(game.Developers) > 0 {
		fmt.Fprintf(&b, "Developers: %s\n", strings.Join(game.Developers, ", "))
	}
	if len(game.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(game.Tags, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Engine runs the candidate generation strategies.
type Engine struct {
	model    Generator
	log      *slog.Logger
	attempts int
	backoff  time.Duration
}

func NewEngine(model Generator, log *slog.Logger) *Engine {
	return &Engine{
		model:    model,
		log:      log,
		attempts: strategyAttempts,
		backoff:  strategyBackoff,
	}
}

// Generate runs all strategies concurrently and returns their candidate
// lists keyed by strategy name. A strategy that fails both attempts is
// dropped from the result; Generate only errors when every strategy failed,
// so one flaky response never sinks the whole run.
func (e *Engine) Generate(ctx context.Context, game *models.Game) (map[string][]models.Candidate, error) {
	strats := strategies()
	results := make([][]models.Candidate, len(strats))
	errs := make([]error, len(strats))

	var wg sync.WaitGroup
	for i, strat := range strats {
		wg.Add(1)
		go func(i int, strat Strategy) {
			defer wg.Done()
			results[i], errs[i] = e.runStrategy(ctx, strat, game)
		}(i, strat)
	}
	wg.Wait()

	out := make(map[string][]models.Candidate, len(strats))
	var failed int
	for i, strat := range strats {
		if errs[i] != nil {
			failed++
			e.log.Warn("candidate strategy failed",
				"strategy", strat.Name, "game_id", game.GameID, "error", errs[i])
			continue
		}
		out[strat.Name] = results[i]
	}

	if failed == len(strats) {
		return nil, fmt.Errorf("all %d candidate strategies failed for game %d, last: %w",
			len(strats), game.GameID, errs[len(errs)-1])
	}
	return out, nil
}

func (e *Engine) runStrategy(ctx context.Context, strat Strategy, game *models.Game) ([]models.Candidate, error) {
	prompt := strat.buildPrompt(game)

	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.backoff):
			}
		}

		response, err := e.model.GenerateWithSystem(ctx, strategySystem, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		candidates, err := parseCandidates(response)
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt, err)
			continue
		}
		return candidates, nil
	}
	return nil, lastErr
}

func parseCandidates(response string) ([]models.Candidate, error) {
	var parsed []models.Candidate
	if err := llm.ExtractJSONArray(response, &parsed); err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(parsed))
	for _, c := range parsed {
		c.Title = strings.TrimSpace(c.Title)
		if c.Title == "" {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no usable candidates in response")
	}
	return candidates, nil
}
