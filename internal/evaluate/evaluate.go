// Package evaluate scores predictions against held-out targets. It only
// reads predictions; it never touches the models that produced them.
package evaluate

import (
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// RegressionMetrics summarizes a regressor on held-out data.
type RegressionMetrics struct {
	MAE   float64 `json:"mae"`
	MSE   float64 `json:"mse"`
	RMSE  float64 `json:"rmse"`
	R2Pct float64 `json:"r2_pct"`
}

// Map returns the metrics keyed by name for selection.
func (m RegressionMetrics) Map() map[string]float64 {
	return map[string]float64{"mae": m.MAE, "mse": m.MSE, "rmse": m.RMSE, "r2_pct": m.R2Pct}
}

// Regression computes MAE, MSE, RMSE and R² (as a percentage).
func Regression(yTrue, yPred []float64) RegressionMetrics {
	n := float64(len(yTrue))
	if n == 0 {
		return RegressionMetrics{MAE: math.NaN(), MSE: math.NaN(), RMSE: math.NaN(), R2Pct: math.NaN()}
	}
	var absSum, sqSum float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		absSum += math.Abs(d)
		sqSum += d * d
	}
	mse := sqSum / n
	return RegressionMetrics{
		MAE:   absSum / n,
		MSE:   mse,
		RMSE:  math.Sqrt(mse),
		R2Pct: stat.RSquaredFrom(yPred, yTrue, nil) * 100,
	}
}

// ClassMetrics is one row of a classification report.
type ClassMetrics struct {
	Class     int     `json:"class"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport mirrors a per-class precision/recall/F1 report.
type ClassificationReport struct {
	Accuracy    float64        `json:"accuracy"`
	Classes     []ClassMetrics `json:"classes"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
	// Confusion[i][j] counts true class Labels[i] predicted as Labels[j].
	Labels    []int   `json:"labels"`
	Confusion [][]int `json:"confusion"`
	ROCAUC    float64 `json:"roc_auc,omitempty"`
}

// Map returns headline metrics keyed by name.
func (r ClassificationReport) Map() map[string]float64 {
	m := map[string]float64{
		"accuracy":    r.Accuracy,
		"f1_macro":    r.MacroAvg.F1,
		"f1_weighted": r.WeightedAvg.F1,
	}
	for _, c := range r.Classes {
		if c.Class == 1 {
			m["precision"] = c.Precision
			m["recall"] = c.Recall
			m["f1"] = c.F1
		}
	}
	if r.ROCAUC != 0 {
		m["roc_auc"] = r.ROCAUC
	}
	return m
}

// Classification builds a report over the union of labels seen in yTrue
// and yPred. Undefined ratios (zero denominators) are reported as 0.
func Classification(yTrue, yPred []float64) ClassificationReport {
	labelSet := map[int]bool{}
	for i := range yTrue {
		labelSet[int(yTrue[i])] = true
		labelSet[int(yPred[i])] = true
	}
	labels := make([]int, 0, len(labelSet))
	for l := range labelSet {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	pos := make(map[int]int, len(labels))
	for i, l := range labels {
		pos[l] = i
	}

	confusion := make([][]int, len(labels))
	for i := range confusion {
		confusion[i] = make([]int, len(labels))
	}
	correct := 0
	for i := range yTrue {
		t, p := int(yTrue[i]), int(yPred[i])
		confusion[pos[t]][pos[p]]++
		if t == p {
			correct++
		}
	}

	r := ClassificationReport{Labels: labels, Confusion: confusion}
	if len(yTrue) > 0 {
		r.Accuracy = float64(correct) / float64(len(yTrue))
	}

	total := 0
	for i, l := range labels {
		tp := confusion[i][i]
		var predicted, actual int
		for j := range labels {
			predicted += confusion[j][i]
			actual += confusion[i][j]
		}
		cm := ClassMetrics{
			Class:     l,
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, actual),
			Support:   actual,
		}
		cm.F1 = ratio(2*tp, predicted+actual)
		r.Classes = append(r.Classes, cm)
		total += actual
	}

	if len(r.Classes) > 0 {
		k := float64(len(r.Classes))
		for _, c := range r.Classes {
			r.MacroAvg.Precision += c.Precision / k
			r.MacroAvg.Recall += c.Recall / k
			r.MacroAvg.F1 += c.F1 / k
			if total > 0 {
				w := float64(c.Support) / float64(total)
				r.WeightedAvg.Precision += c.Precision * w
				r.WeightedAvg.Recall += c.Recall * w
				r.WeightedAvg.F1 += c.F1 * w
			}
		}
		r.MacroAvg.Class, r.WeightedAvg.Class = -1, -1
		r.MacroAvg.Support, r.WeightedAvg.Support = total, total
	}
	return r
}

// F1 returns the F1 score of the positive class.
func F1(yTrue, yPred []float64, positive float64) float64 {
	var tp, fp, fn int
	for i := range yTrue {
		switch {
		case yPred[i] == positive && yTrue[i] == positive:
			tp++
		case yPred[i] == positive:
			fp++
		case yTrue[i] == positive:
			fn++
		}
	}
	return ratio(2*tp, 2*tp+fp+fn)
}

// ROCAUC returns the area under the ROC curve for positive-class scores,
// with tied scores sharing their average rank. It returns NaN when yTrue
// holds a single class.
func ROCAUC(yTrue, scores []float64, positive float64) float64 {
	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(yTrue))
	var nPos, nNeg float64
	for i := range yTrue {
		pairs[i] = pair{scores[i], yTrue[i] == positive}
		if pairs[i].pos {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return math.NaN()
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].score < pairs[b].score })

	var rankSum float64
	for i := 0; i < len(pairs); {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based: (i+1 + j) / 2
		for k := i; k < j; k++ {
			if pairs[k].pos {
				rankSum += avgRank
			}
		}
		i = j
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
