package similar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/kindred-go/internal/models"
)

type fakeModel struct {
	fn    func(system, prompt string) (string, error)
	calls atomic.Int32
}

func (f *fakeModel) GenerateWithSystem(_ context.Context, system, prompt string) (string, error) {
	f.calls.Add(1)
	return f.fn(system, prompt)
}

func testEngine(fn func(system, prompt string) (string, error)) (*Engine, *fakeModel) {
	model := &fakeModel{fn: fn}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(model, log)
	engine.backoff = time.Millisecond
	return engine, model
}

func testGame() *models.Game {
	short := "A quiet exploration game"
	return &models.Game{
		GameID:     42,
		Title:      "Hollow Garden",
		ShortText:  &short,
		Developers: []string{"moss studio"},
		Tags:       []string{"exploration"},
	}
}

func TestGenerateRunsAllStrategies(t *testing.T) {
	engine, model := testEngine(func(_, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "tone, mood"):
			return `[{"title": "Rain World", "reason": "shared mood"}]`, nil
		case strings.Contains(prompt, "core mechanics"):
			return `[{"title": "A Short Hike", "reason": "shared loop"}]`, nil
		default:
			return `[{"title": "Proteus", "reason": "same crowd"}]`, nil
		}
	})

	byStrategy, err := engine.Generate(context.Background(), testGame())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(byStrategy) != 3 {
		t.Fatalf("expected 3 strategy results, got %d: %v", len(byStrategy), byStrategy)
	}
	if got := byStrategy["tone"]; len(got) != 1 || got[0].Title != "Rain World" {
		t.Errorf("tone strategy = %+v", got)
	}
	if model.calls.Load() != 3 {
		t.Errorf("model called %d times, want 3", model.calls.Load())
	}
}

func TestGenerateIsolatesStrategyFailure(t *testing.T) {
	engine, _ := testEngine(func(_, prompt string) (string, error) {
		if strings.Contains(prompt, "core mechanics") {
			return "", errors.New("model unavailable")
		}
		return `[{"title": "Rain World", "reason": "ok"}]`, nil
	})

	byStrategy, err := engine.Generate(context.Background(), testGame())
	if err != nil {
		t.Fatalf("one failing strategy must not fail the run: %v", err)
	}
	if _, ok := byStrategy["mechanics"]; ok {
		t.Error("failed strategy present in results")
	}
	if len(byStrategy) != 2 {
		t.Errorf("expected 2 surviving strategies, got %d", len(byStrategy))
	}
}

func TestGenerateFailsWhenAllStrategiesFail(t *testing.T) {
	engine, _ := testEngine(func(_, _ string) (string, error) {
		return "", errors.New("model unavailable")
	})

	if _, err := engine.Generate(context.Background(), testGame()); err == nil {
		t.Fatal("expected error when every strategy fails")
	}
}

func TestGenerateRetriesMalformedResponse(t *testing.T) {
	var toneAttempts atomic.Int32
	engine, _ := testEngine(func(_, prompt string) (string, error) {
		if strings.Contains(prompt, "tone, mood") {
			if toneAttempts.Add(1) == 1 {
				return "I think you would enjoy these games!", nil
			}
			return `[{"title": "Rain World", "reason": "second try"}]`, nil
		}
		return `[{"title": "Proteus", "reason": "ok"}]`, nil
	})

	byStrategy, err := engine.Generate(context.Background(), testGame())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if toneAttempts.Load() != 2 {
		t.Errorf("tone strategy attempted %d times, want 2", toneAttempts.Load())
	}
	if got := byStrategy["tone"]; len(got) != 1 || got[0].Reason != "second try" {
		t.Errorf("tone strategy = %+v", got)
	}
}

func TestGenerateParsesProseWrappedJSON(t *testing.T) {
	engine, _ := testEngine(func(_, _ string) (string, error) {
		return "Here are my picks:\n```json\n[{\"title\": \"Celeste\", \"reason\": \"r\"}]\n```", nil
	})

	byStrategy, err := engine.Generate(context.Background(), testGame())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for name, candidates := range byStrategy {
		if len(candidates) != 1 || candidates[0].Title != "Celeste" {
			t.Errorf("%s = %+v", name, candidates)
		}
	}
}

func mergedFixture() []models.MergedCandidate {
	return []models.MergedCandidate{
		{NormalizedTitle: "rain world", Title: "Rain World", MentionCount: 3, Reasons: []string{"mood"}},
		{NormalizedTitle: "a short hike", Title: "A Short Hike", MentionCount: 2, Reasons: []string{"loop"}},
		{NormalizedTitle: "proteus", Title: "Proteus", MentionCount: 1, Reasons: []string{"crowd"}},
	}
}

func TestCurateReorders(t *testing.T) {
	engine, _ := testEngine(func(_, _ string) (string, error) {
		return `["Proteus", "Rain World", "A Short Hike"]`, nil
	})

	out := engine.Curate(context.Background(), testGame(), mergedFixture())

	want := []string{"proteus", "rain world", "a short hike"}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i, m := range out {
		if m.NormalizedTitle != want[i] {
			t.Errorf("position %d = %q, want %q", i, m.NormalizedTitle, want[i])
		}
	}
}

func TestCurateFallsBackOnModelError(t *testing.T) {
	engine, _ := testEngine(func(_, _ string) (string, error) {
		return "", errors.New("model unavailable")
	})

	in := mergedFixture()
	out := engine.Curate(context.Background(), testGame(), in)

	for i := range in {
		if out[i].NormalizedTitle != in[i].NormalizedTitle {
			t.Fatalf("consensus order not preserved on failure: %+v", out)
		}
	}
}

func TestCurateIgnoresInventedTitlesAndKeepsOmitted(t *testing.T) {
	engine, _ := testEngine(func(_, _ string) (string, error) {
		// Invents one title, omits two known ones.
		return `["Proteus", "Completely Made Up Game"]`, nil
	})

	out := engine.Curate(context.Background(), testGame(), mergedFixture())

	want := []string{"proteus", "rain world", "a short hike"}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(out), len(want), out)
	}
	for i, m := range out {
		if m.NormalizedTitle != want[i] {
			t.Errorf("position %d = %q, want %q", i, m.NormalizedTitle, want[i])
		}
	}
}

func TestCurateFallsBackWhenNoTitlesMatch(t *testing.T) {
	engine, _ := testEngine(func(_, _ string) (string, error) {
		return `["Unknown One", "Unknown Two"]`, nil
	})

	in := mergedFixture()
	out := engine.Curate(context.Background(), testGame(), in)

	for i := range in {
		if out[i].NormalizedTitle != in[i].NormalizedTitle {
			t.Fatalf("expected consensus order, got %+v", out)
		}
	}
}

func TestCurateSkipsTrivialLists(t *testing.T) {
	engine, model := testEngine(func(_, _ string) (string, error) {
		return `["anything"]`, nil
	})

	single := mergedFixture()[:1]
	out := engine.Curate(context.Background(), testGame(), single)
	if len(out) != 1 || model.calls.Load() != 0 {
		t.Fatalf("single-candidate list should skip the model, calls=%d", model.calls.Load())
	}
}
