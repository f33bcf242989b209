package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatePerfectSeparation(t *testing.T) {
	r, err := Evaluate([]int{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 0.5)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, r.ROCAUC, 1e-12)
	assert.InDelta(t, 1.0, r.PRAUC, 1e-12)
	assert.Equal(t, Confusion{TP: 2, TN: 2}, r.Confusion)
	assert.Equal(t, 1.0, r.Accuracy)
	assert.Equal(t, 1.0, r.F1)
}

func TestEvaluateMixed(t *testing.T) {
	r, err := Evaluate([]int{0, 0, 1, 1}, []float64{0.1, 0.4, 0.35, 0.8}, 0.5)
	require.NoError(t, err)

	assert.InDelta(t, 0.75, r.ROCAUC, 1e-12)
	assert.InDelta(t, 0.5+0.5*(0.5+2.0/3)/2, r.PRAUC, 1e-12)

	assert.Equal(t, Confusion{TP: 1, TN: 2, FP: 0, FN: 1}, r.Confusion)
	assert.Equal(t, 2, r.Positives)
	assert.InDelta(t, 0.75, r.Accuracy, 1e-12)
	assert.InDelta(t, 0.5, r.Sensitivity, 1e-12)
	assert.InDelta(t, 1.0, r.Specificity, 1e-12)
	assert.InDelta(t, 1.0, r.Precision, 1e-12)
	assert.InDelta(t, 2.0/3, r.NPV, 1e-12)
	assert.InDelta(t, 2.0/3, r.F1, 1e-12)
}

func TestEvaluateThresholdIsInclusive(t *testing.T) {
	r, err := Evaluate([]int{0, 1}, []float64{0.1, 0.1799}, 0.1799)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Confusion.TP)
}

func TestEvaluateTies(t *testing.T) {
	r, err := Evaluate([]int{0, 1}, []float64{0.5, 0.5}, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, r.ROCAUC, 1e-12)
	assert.InDelta(t, 0.75, r.PRAUC, 1e-12)
}

func TestEvaluateErrors(t *testing.T) {
	_, err := Evaluate([]int{0, 1}, []float64{0.5}, 0.5)
	assert.Error(t, err)

	_, err = Evaluate(nil, nil, 0.5)
	assert.Error(t, err)

	_, err = Evaluate([]int{1, 1}, []float64{0.2, 0.9}, 0.5)
	assert.Error(t, err, "single class")

	_, err = Evaluate([]int{0, 2}, []float64{0.2, 0.9}, 0.5)
	assert.Error(t, err)
}
