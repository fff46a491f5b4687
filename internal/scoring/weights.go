// Package scoring classifies entries into a small type taxonomy and turns
// model-graded facet comparisons into a single ranking score with a tonal
// gatekeeping rule.
package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/kindred-go/internal/models"
)

// Facet names one similarity dimension of the comparison.
type Facet string

const (
	FacetTone         Facet = "tone"
	FacetPresentation Facet = "presentation"
	FacetTheme        Facet = "theme"
	FacetMechanics    Facet = "mechanics"
	FacetIntent       Facet = "intent"
)

// Profile is an entry's type plus the facet weight vector that type implies.
// Derived at scoring time, not persisted.
type Profile struct {
	PrimaryType  models.EntryType
	FacetWeights map[Facet]float64
}

// defaultWeights are fixed per-type constants, each vector summing to 1.0.
// Experimental entries skew toward tone and artistic intent; competitive
// entries invert this toward mechanics.
var defaultWeights = map[models.EntryType]map[Facet]float64{
	models.TypeMainstream: {
		FacetTone: 0.20, FacetPresentation: 0.20, FacetTheme: 0.20, FacetMechanics: 0.30, FacetIntent: 0.10,
	},
	models.TypeExperimental: {
		FacetTone: 0.35, FacetPresentation: 0.15, FacetTheme: 0.10, FacetMechanics: 0.05, FacetIntent: 0.35,
	},
	models.TypeCozy: {
		FacetTone: 0.35, FacetPresentation: 0.20, FacetTheme: 0.20, FacetMechanics: 0.15, FacetIntent: 0.10,
	},
	models.TypeCompetitive: {
		FacetTone: 0.10, FacetPresentation: 0.15, FacetTheme: 0.10, FacetMechanics: 0.55, FacetIntent: 0.10,
	},
	models.TypeNarrative: {
		FacetTone: 0.25, FacetPresentation: 0.15, FacetTheme: 0.35, FacetMechanics: 0.10, FacetIntent: 0.15,
	},
}

// WeightsFile is the optional YAML override for curated scoring data. Both
// sections are optional; absent types keep their built-in vectors.
type WeightsFile struct {
	Weights                map[string]map[string]float64 `yaml:"weights"`
	ExperimentalDevelopers []string                      `yaml:"experimental_developers"`
}

// LoadWeightsFile reads the YAML override file. A missing path returns an
// empty override, not an error, so the file stays optional.
func LoadWeightsFile(path string) (*WeightsFile, error) {
	if path == "" {
		return &WeightsFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &WeightsFile{}, nil
		}
		return nil, fmt.Errorf("read weights file: %w", err)
	}

	var wf WeightsFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse weights file %s: %w", path, err)
	}

	for typeName, vector := range wf.Weights {
		if !models.ValidEntryType(typeName) {
			return nil, fmt.Errorf("weights file %s: unknown entry type %q", path, typeName)
		}
		var sum float64
		for facet, w := range vector {
			switch Facet(facet) {
			case FacetTone, FacetPresentation, FacetTheme, FacetMechanics, FacetIntent:
			default:
				return nil, fmt.Errorf("weights file %s: unknown facet %q", path, facet)
			}
			sum += w
		}
		if sum < 0.99 || sum > 1.01 {
			return nil, fmt.Errorf("weights file %s: %s weights sum to %.3f, want 1.0", path, typeName, sum)
		}
	}
	return &wf, nil
}

// WeightsFor returns the facet weight vector for an entry type, applying
// any file override on top of the built-in constants.
func WeightsFor(entryType models.EntryType, override *WeightsFile) map[Facet]float64 {
	base := defaultWeights[entryType]
	if base == nil {
		base = defaultWeights[models.TypeMainstream]
	}

	if override != nil {
		if custom, ok := override.Weights[string(entryType)]; ok {
			merged := make(map[Facet]float64, len(base))
			for facet, w := range base {
				merged[facet] = w
			}
			for facet, w := range custom {
				merged[Facet(facet)] = w
			}
			return merged
		}
	}

	out := make(map[Facet]float64, len(base))
	for facet, w := range base {
		out[facet] = w
	}
	return out
}

// WeightedAffinity is the profile-weighted mean of the four graded facets,
// used as a secondary ordering signal alongside the gated total. The intent
// weight is redistributed since intent has no model-graded comparison score.
func (p *Profile) WeightedAffinity(scores FacetScores) float64 {
	graded := map[Facet]float64{
		FacetTone:         scores.Tone,
		FacetPresentation: scores.Presentation,
		FacetTheme:        scores.Theme,
		FacetMechanics:    scores.Mechanics,
	}

	var sum, weightSum float64
	for facet, score := range graded {
		w := p.FacetWeights[facet]
		sum += w * score
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}
