package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/kindred-go/internal/llm"
	"github.com/raphaelgruber/kindred-go/internal/models"
)

const gradeSystem = `You compare two games facet by facet and return similarity scores between 0.0 and 1.0. You respond with strict JSON only, no prose, no markdown fences.`

// Grader produces the per-facet comparison scores the combiner consumes.
type Grader struct {
	model Generator
}

func NewGrader(model Generator) *Grader {
	return &Grader{model: model}
}

// GradeFacets asks the model to compare source against candidate on the
// four scored facets. Unlike classification this errors on failure; a
// missing comparison means the candidate cannot be ranked at all.
func (g *Grader) GradeFacets(ctx context.Context, source, candidate *models.Game) (FacetScores, error) {
	response, err := g.model.GenerateWithSystem(ctx, gradeSystem, buildGradePrompt(source, candidate))
	if err != nil {
		return FacetScores{}, fmt.Errorf("grade facets %d vs %d: %w", source.GameID, candidate.GameID, err)
	}

	var scores FacetScores
	if err := llm.ExtractJSONObject(response, &scores); err != nil {
		return FacetScores{}, fmt.Errorf("grade facets %d vs %d: %w", source.GameID, candidate.GameID, err)
	}
	return clampScores(scores), nil
}

func buildGradePrompt(source, candidate *models.Game) string {
	var b strings.Builder
	b.WriteString("Compare these two games on four facets, each scored 0.0 (nothing in common) to 1.0 (near-identical).\n\n")
	fmt.Fprintf(&b, "GAME A:\n%s\n\nGAME B:\n%s\n", gameSummary(source), gameSummary(candidate))
	b.WriteString(`
Facets: tone (mood, emotional register, atmosphere), presentation (art style, audiovisual character), theme (subject matter, setting), mechanics (what the player actually does).

Respond with a JSON object of exactly this shape:
{"tone": 0.0, "presentation": 0.0, "theme": 0.0, "mechanics": 0.0}`)
	return b.String()
}

func gameSummary(game *models.Game) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s", game.Title)
	if game.ShortText != nil && *game.ShortText != "" {
		fmt.Fprintf(&b, "\nDescription: %s", *game.ShortText)
	}
	if game.Facets != nil {
		if game.Facets.Tone != "" {
			fmt.Fprintf(&b, "\nTone: %s", game.Facets.Tone)
		}
		if game.Facets.Mechanics != "" {
			fmt.Fprintf(&b, "\nMechanics: %s", game.Facets.Mechanics)
		}
	}
	if len(game.Tags) > 0 {
		fmt.Fprintf(&b, "\nTags: %s", strings.Join(game.Tags, ", "))
	}
	return b.String()
}
