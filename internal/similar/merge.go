package similar

import (
	"sort"

	"github.com/raphaelgruber/kindred-go/internal/models"
)

// Merge folds the per-strategy candidate lists into one consensus list,
// deduplicated on normalized title. MentionCount counts distinct strategies
// that proposed the title (repeats within one strategy do not inflate it).
// The source game itself is excluded however a strategy spelled it.
//
// The result is deterministic for a given input regardless of map iteration
// order: strategies are folded in sorted name order and ties in mention
// count break on the normalized title.
func Merge(sourceTitle string, byStrategy map[string][]models.Candidate) []models.MergedCandidate {
	sourceKey := models.NormalizeTitle(sourceTitle)

	names := make([]string, 0, len(byStrategy))
	for name := range byStrategy {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make(map[string]*models.MergedCandidate)
	var order []string

	for _, name := range names {
		seen := make(map[string]bool)
		for _, c := range byStrategy[name] {
			key := models.NormalizeTitle(c.Title)
			if key == "" || key == sourceKey || seen[key] {
				continue
			}
			seen[key] = true

			m, ok := merged[key]
			if !ok {
				m = &models.MergedCandidate{
					NormalizedTitle: key,
					Title:           c.Title,
				}
				merged[key] = m
				order = append(order, key)
			}
			m.MentionCount++
			m.Strategies = append(m.Strategies, name)
			if c.Reason != "" {
				m.Reasons = append(m.Reasons, c.Reason)
			}
		}
	}

	out := make([]models.MergedCandidate, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MentionCount != out[j].MentionCount {
			return out[i].MentionCount > out[j].MentionCount
		}
		return out[i].NormalizedTitle < out[j].NormalizedTitle
	})
	return out
}
