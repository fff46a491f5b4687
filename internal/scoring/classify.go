package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/kindred-go/internal/llm"
	"github.com/raphaelgruber/kindred-go/internal/models"
)

// Generator is the LLM surface the classifier needs. *llm.Model satisfies it.
type Generator interface {
	GenerateWithSystem(ctx context.Context, system, prompt string) (string, error)
}

const classifySystem = `You classify games into exactly one category. You respond with strict JSON only, no prose, no markdown fences.`

// Classifier derives an entry's type profile. The model call is advisory:
// a curated allow-list of known-experimental developers deterministically
// overrides it, and any model or parse failure falls back to mainstream.
type Classifier struct {
	model     Generator
	log       *slog.Logger
	weights   *WeightsFile
	allowList map[string]bool
}

func NewClassifier(model Generator, log *slog.Logger, weights *WeightsFile) *Classifier {
	allowList := make(map[string]bool)
	if weights != nil {
		for _, dev := range weights.ExperimentalDevelopers {
			allowList[models.NormalizeTitle(dev)] = true
		}
	}
	return &Classifier{model: model, log: log, weights: weights, allowList: allowList}
}

// Classify returns the entry's type profile. Never errors: the taxonomy has
// a safe default and classification is not worth failing a pipeline over.
func (c *Classifier) Classify(ctx context.Context, game *models.Game) Profile {
	entryType := c.classifyType(ctx, game)
	return Profile{
		PrimaryType:  entryType,
		FacetWeights: WeightsFor(entryType, c.weights),
	}
}

func (c *Classifier) classifyType(ctx context.Context, game *models.Game) models.EntryType {
	// Allow-list match wins over whatever the model would say.
	for _, dev := range game.Developers {
		if c.allowList[models.NormalizeTitle(dev)] {
			return models.TypeExperimental
		}
	}

	response, err := c.model.GenerateWithSystem(ctx, classifySystem, buildClassifyPrompt(game))
	if err != nil {
		c.log.Warn("classification failed, defaulting to mainstream",
			"game_id", game.GameID, "error", err)
		return models.TypeMainstream
	}

	entryType, err := parseClassification(response)
	if err != nil {
		c.log.Warn("classification response unusable, defaulting to mainstream",
			"game_id", game.GameID, "error", err)
		return models.TypeMainstream
	}
	return entryType
}

func buildClassifyPrompt(game *models.Game) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Classify this game into exactly one of: %s.\n\n", typeList())
	fmt.Fprintf(&b, "Title: %s\n", game.Title)
	if game.ShortText != nil && *game.ShortText != "" {
		fmt.Fprintf(&b, "Description: %s\n", *game.ShortText)
	}
	if len(game.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(game.Tags, ", "))
	}
	b.WriteString(`
Definitions: mainstream = broad-appeal genre work; experimental = art game or unconventional form; cozy = low-pressure, comfort-focused; competitive = skill-based versus play; narrative = story-first.

Respond with a JSON object of exactly this shape:
{"type": "mainstream"}`)
	return b.String()
}

func parseClassification(response string) (models.EntryType, error) {
	var parsed struct {
		Type string `json:"type"`
	}
	if err := llm.ExtractJSONObject(response, &parsed); err != nil {
		return "", err
	}

	typeName := strings.ToLower(strings.TrimSpace(parsed.Type))
	if !models.ValidEntryType(typeName) {
		return "", fmt.Errorf("unknown entry type %q", parsed.Type)
	}
	return models.EntryType(typeName), nil
}

func typeList() string {
	names := make([]string, len(models.EntryTypes))
	for i, t := range models.EntryTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
