package scoring

// FacetScores are the four model-graded similarity scores, each in [0, 1].
type FacetScores struct {
	Tone         float64 `json:"tone"`
	Presentation float64 `json:"presentation"`
	Theme        float64 `json:"theme"`
	Mechanics    float64 `json:"mechanics"`
}

// Result is the combined ranking score for one candidate.
type Result struct {
	Total    float64
	PerFacet FacetScores
	Grade    string
	Gated    bool
}

// Tonal gatekeeping: below the floor the total collapses to tone times the
// penalty factor. A tonal mismatch cannot be bought back by mechanics.
const (
	toneGateFloor   = 0.4
	toneGatePenalty = 0.3
)

// Score combines the facet scores multiplicatively. The product models
// "must be simultaneously true": any factor near zero suppresses the total.
func Score(scores FacetScores) Result {
	scores = clampScores(scores)

	r := Result{PerFacet: scores}
	if scores.Tone < toneGateFloor {
		r.Total = scores.Tone * toneGatePenalty
		r.Gated = true
	} else {
		r.Total = scores.Tone * scores.Presentation * (scores.Theme + scores.Mechanics) / 2
	}
	r.Grade = gradeFor(r.Total)
	return r
}

// gradeFor maps a total onto the fixed letter ladder.
func gradeFor(total float64) string {
	switch {
	case total >= 0.45:
		return "A"
	case total >= 0.30:
		return "B"
	case total >= 0.20:
		return "C"
	case total >= 0.10:
		return "D"
	default:
		return "F"
	}
}

func clampScores(s FacetScores) FacetScores {
	s.Tone = clamp01(s.Tone)
	s.Presentation = clamp01(s.Presentation)
	s.Theme = clamp01(s.Theme)
	s.Mechanics = clamp01(s.Mechanics)
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
