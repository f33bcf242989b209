// Package evaluation scores model probabilities against known labels.
package evaluation

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Confusion is the 2x2 confusion matrix at one threshold.
type Confusion struct {
	TP int `json:"tp"`
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// Report holds threshold-free and threshold metrics. Ratios with a zero
// denominator are reported as 0.
type Report struct {
	N           int       `json:"n"`
	Positives   int       `json:"positives"`
	Threshold   float64   `json:"threshold"`
	ROCAUC      float64   `json:"roc_auc"`
	PRAUC       float64   `json:"pr_auc"`
	Accuracy    float64   `json:"accuracy"`
	Sensitivity float64   `json:"sensitivity"`
	Specificity float64   `json:"specificity"`
	Precision   float64   `json:"precision"`
	NPV         float64   `json:"npv"`
	F1          float64   `json:"f1"`
	Confusion   Confusion `json:"confusion"`
}

// Evaluate compares probabilities with 0/1 labels. Both classes must be
// present for the curve metrics to exist.
func Evaluate(labels []int, probs []float64, threshold float64) (Report, error) {
	if len(labels) != len(probs) {
		return Report{}, fmt.Errorf("%d labels for %d probabilities", len(labels), len(probs))
	}
	if len(labels) == 0 {
		return Report{}, fmt.Errorf("nothing to evaluate")
	}

	r := Report{N: len(labels), Threshold: threshold}
	for i, y := range labels {
		p := probs[i]
		if y != 0 && y != 1 {
			return Report{}, fmt.Errorf("label %d at %d is not 0 or 1", y, i)
		}
		if math.IsNaN(p) {
			return Report{}, fmt.Errorf("probability at %d is NaN", i)
		}
		pred := p >= threshold
		switch {
		case y == 1 && pred:
			r.Confusion.TP++
		case y == 1:
			r.Confusion.FN++
		case pred:
			r.Confusion.FP++
		default:
			r.Confusion.TN++
		}
	}
	r.Positives = r.Confusion.TP + r.Confusion.FN
	if r.Positives == 0 || r.Positives == r.N {
		return Report{}, fmt.Errorf("curve metrics need both classes, got %d positives of %d", r.Positives, r.N)
	}

	c := r.Confusion
	r.Accuracy = ratio(c.TP+c.TN, r.N)
	r.Sensitivity = ratio(c.TP, c.TP+c.FN)
	r.Specificity = ratio(c.TN, c.TN+c.FP)
	r.Precision = ratio(c.TP, c.TP+c.FP)
	r.NPV = ratio(c.TN, c.TN+c.FN)
	if r.Precision+r.Sensitivity > 0 {
		r.F1 = 2 * r.Precision * r.Sensitivity / (r.Precision + r.Sensitivity)
	}

	r.ROCAUC = rocAUC(labels, probs)
	r.PRAUC = prAUC(labels, probs)
	return r, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

type scored struct {
	p   float64
	pos bool
}

func sortedScores(labels []int, probs []float64) []scored {
	s := make([]scored, len(labels))
	for i := range labels {
		s[i] = scored{p: probs[i], pos: labels[i] == 1}
	}
	sort.SliceStable(s, func(i, j int) bool { return s[i].p < s[j].p })
	return s
}

func rocAUC(labels []int, probs []float64) float64 {
	s := sortedScores(labels, probs)
	y := make([]float64, len(s))
	classes := make([]bool, len(s))
	for i, v := range s {
		y[i] = v.p
		classes[i] = v.pos
	}
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// prAUC integrates precision over recall. Points are taken at every
// distinct score from the highest down, stopping at full recall, and the
// curve is anchored at recall 0 with precision 1.
func prAUC(labels []int, probs []float64) float64 {
	s := sortedScores(labels, probs)
	total := 0
	for _, v := range s {
		if v.pos {
			total++
		}
	}

	recall := []float64{0}
	precision := []float64{1}
	tp, fp := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].pos {
			tp++
		} else {
			fp++
		}
		if i > 0 && s[i-1].p == s[i].p {
			continue
		}
		recall = append(recall, float64(tp)/float64(total))
		precision = append(precision, float64(tp)/float64(tp+fp))
		if tp == total {
			break
		}
	}
	return integrate.Trapezoidal(recall, precision)
}
