package search

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/learn"
)

// Params is one random forest classifier configuration. MaxDepth 0 means
// unbounded.
type Params struct {
	Trees           int    `json:"n_estimators"`
	MaxDepth        int    `json:"max_depth"`
	MinSamplesSplit int    `json:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf"`
	Criterion       string `json:"criterion"`
}

// Estimator returns the classifier configured by p.
func (p Params) Estimator(seed uint64) learn.RandomForestClassifier {
	return learn.RandomForestClassifier{
		Trees:           p.Trees,
		MaxDepth:        p.MaxDepth,
		MinSamplesSplit: p.MinSamplesSplit,
		MinSamplesLeaf:  p.MinSamplesLeaf,
		Criterion:       p.Criterion,
		Seed:            seed,
	}
}

// Space is a cartesian parameter grid.
type Space config.GridConfig

// Size returns the number of configurations.
func (s Space) Size() int { return config.GridConfig(s).Size() }

// Enumerate lists every configuration. Keys are nested alphabetically by
// their parameter name with n_estimators varying fastest.
func (s Space) Enumerate() []Params {
	out := make([]Params, 0, s.Size())
	for _, crit := range s.Criterion {
		for _, depth := range s.MaxDepth {
			for _, leaf := range s.MinSamplesLeaf {
				for _, split := range s.MinSamplesSplit {
					for _, trees := range s.Trees {
						out = append(out, Params{
							Trees:           trees,
							MaxDepth:        depth,
							MinSamplesSplit: split,
							MinSamplesLeaf:  leaf,
							Criterion:       crit,
						})
					}
				}
			}
		}
	}
	return out
}

// LoadGrid reads a parameter grid from a YAML file with a top-level "grid"
// key. A null max_depth entry means unbounded.
func LoadGrid(path string) (Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Space{}, eris.Wrapf(err, "search: read grid %s", path)
	}

	var wrapper struct {
		Grid config.GridConfig `yaml:"grid"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Space{}, eris.Wrap(err, "search: parse grid")
	}

	if err := wrapper.Grid.Validate(); err != nil {
		return Space{}, eris.Wrapf(err, "search: grid %s", path)
	}
	return Space(wrapper.Grid), nil
}

// SpaceFromConfig returns the configured grid, preferring the grid file
// when one is set.
func SpaceFromConfig(cfg config.SearchConfig) (Space, error) {
	if cfg.GridFile != "" {
		return LoadGrid(cfg.GridFile)
	}
	return Space(cfg.Grid), nil
}
