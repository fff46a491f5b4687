package models

// Candidate is a single {title, reason} pair proposed by one generation
// strategy. Candidates are ephemeral; only their merged, resolved form is
// persisted.
type Candidate struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// MergedCandidate is the fold of all strategies' candidates on a normalized
// title key. MentionCount is an agreement signal, not a correctness
// guarantee.
type MergedCandidate struct {
	NormalizedTitle string
	Title           string
	MentionCount    int
	Reasons         []string
	Strategies      []string
}

// ResolutionSource records how a candidate title was resolved to an
// external ID.
type ResolutionSource string

const (
	ResolutionCache      ResolutionSource = "cache"
	ResolutionSearch     ResolutionSource = "search"
	ResolutionUnresolved ResolutionSource = "unresolved"
)

// ValidatedSuggestion is a merged candidate after ID resolution. A nil
// GameID marks a hallucinated title that must not be persisted.
type ValidatedSuggestion struct {
	MergedCandidate
	GameID *int64
	Source ResolutionSource
}

// EntryType classifies a game for adaptive facet weighting.
type EntryType string

const (
	TypeMainstream   EntryType = "mainstream"
	TypeExperimental EntryType = "experimental"
	TypeCozy         EntryType = "cozy"
	TypeCompetitive  EntryType = "competitive"
	TypeNarrative    EntryType = "narrative"
)

// EntryTypes lists the full taxonomy in a stable order.
var EntryTypes = []EntryType{
	TypeMainstream,
	TypeExperimental,
	TypeCozy,
	TypeCompetitive,
	TypeNarrative,
}

// ValidEntryType reports whether s names a known entry type.
func ValidEntryType(s string) bool {
	for _, t := range EntryTypes {
		if string(t) == s {
			return true
		}
	}
	return false
}
