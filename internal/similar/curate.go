package similar

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/kindred-go/internal/llm"
	"github.com/raphaelgruber/kindred-go/internal/models"
)

// curationWindow bounds how many consensus candidates the curation prompt
// sees. Anything past the window keeps its consensus position.
const curationWindow = 20

const curateSystem = `You are a game curator ranking recommendations for quality and relevance. You respond with strict JSON only, no prose, no markdown fences.`

// Curate asks the model to reorder the head of the consensus list by how
// genuinely similar and worth recommending each candidate is. Curation is
// best-effort: on any model or parse failure the consensus order is
// returned unchanged. Titles the model invents are ignored; titles it
// omits retain their consensus order after the curated head.
func (e *Engine) Curate(ctx context.Context, game *models.Game, merged []models.MergedCandidate) []models.MergedCandidate {
	if len(merged) < 2 {
		return merged
	}

	window := merged
	if len(window) > curationWindow {
		window = window[:curationWindow]
	}

	response, err := e.model.GenerateWithSystem(ctx, curateSystem, buildCuratePrompt(game, window))
	if err != nil {
		e.log.Warn("curation failed, keeping consensus order",
			"game_id", game.GameID, "error", err)
		return merged
	}

	ranked, err := parseCuratedTitles(response)
	if err != nil {
		e.log.Warn("curation response unusable, keeping consensus order",
			"game_id", game.GameID, "error", err)
		return merged
	}

	byKey := make(map[string]int, len(merged))
	for i, m := range merged {
		byKey[m.NormalizedTitle] = i
	}

	out := make([]models.MergedCandidate, 0, len(merged))
	taken := make(map[string]bool, len(ranked))
	for _, title := range ranked {
		key := models.NormalizeTitle(title)
		idx, ok := byKey[key]
		if !ok || taken[key] {
			continue
		}
		taken[key] = true
		out = append(out, merged[idx])
	}
	if len(out) == 0 {
		e.log.Warn("curation matched no known candidates, keeping consensus order",
			"game_id", game.GameID)
		return merged
	}
	for _, m := range merged {
		if !taken[m.NormalizedTitle] {
			out = append(out, m)
		}
	}
	return out
}

func buildCuratePrompt(game *models.Game, window []models.MergedCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The player likes this game:\n\n%s\n\nCandidate recommendations (with how many independent signals proposed each, and why):\n\n", describeGame(game))
	for i, m := range window {
		reason := ""
		if len(m.Reasons) > 0 {
			reason = m.Reasons[0]
		}
		fmt.Fprintf(&b, "%d. %s (signals: %d) %s\n", i+1, m.Title, m.MentionCount, reason)
	}
	b.WriteString(`
Rank these candidates from best to worst recommendation for this player. Drop nothing and add nothing. Respond with a JSON array of the candidate titles in your preferred order:
["Best Title", "Second Title"]`)
	return b.String()
}

func parseCuratedTitles(response string) ([]string, error) {
	var titles []string
	if err := llm.ExtractJSONArray(response, &titles); err != nil {
		return nil, err
	}
	if len(titles) == 0 {
		return nil, fmt.Errorf("empty curated list")
	}
	return titles, nil
}
