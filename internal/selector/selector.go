// Package selector picks the champion among evaluated candidates.
package selector

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-intel/internal/learn"
	"github.com/sells-group/invoice-intel/internal/preprocess"
)

// Direction says whether a metric is better small or large.
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

func (d Direction) String() string {
	if d == Maximize {
		return "maximize"
	}
	return "minimize"
}

// Candidate is a fitted model with its evaluation.
type Candidate struct {
	Name      string
	Model     learn.Model
	Transform preprocess.Transform
	Params    map[string]any
	Metrics   map[string]float64
}

// SelectChampion returns the candidate with the strictly best value of
// metric. On an exact tie the earlier candidate wins.
func SelectChampion(candidates []Candidate, metric string, direction Direction) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, eris.New("selector: no candidates")
	}

	best := -1
	var bestVal float64
	for i, c := range candidates {
		v, ok := c.Metrics[metric]
		if !ok {
			return Candidate{}, eris.Errorf("selector: candidate %q has no metric %q", c.Name, metric)
		}
		if math.IsNaN(v) {
			return Candidate{}, eris.Errorf("selector: candidate %q has NaN %s", c.Name, metric)
		}
		if best < 0 || better(v, bestVal, direction) {
			best, bestVal = i, v
		}
	}
	return candidates[best], nil
}

func better(v, cur float64, d Direction) bool {
	if d == Maximize {
		return v > cur
	}
	return v < cur
}
