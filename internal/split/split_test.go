package split

import (
	"fmt"
	"testing"

	"github.com/sepsisguard/platform/internal/transform"
	"github.com/sepsisguard/platform/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// windows returns n windows, every tenth one positive.
func windows(n int) []window.Window {
	out := make([]window.Window, n)
	for i := range out {
		label := 0
		if i%10 == 0 {
			label = 1
		}
		out[i] = window.Window{
			PatientID: fmt.Sprintf("p%d", i/5),
			Hour:      i,
			Vectors:   []transform.FeatureVector{{float64(i)}},
			Label:     &label,
		}
	}
	return out
}

func hours(ws []window.Window) []int {
	out := make([]int, len(ws))
	for i, w := range ws {
		out[i] = w.Hour
	}
	return out
}

func TestStratifiedSizes(t *testing.T) {
	res, err := Stratified(windows(1000), Config{TestFraction: 0.2, ValFraction: 0.2, Seed: 42})
	require.NoError(t, err)

	assert.Len(t, res.Test, 200)
	assert.Len(t, res.Val, 160)
	assert.Len(t, res.Train, 640)

	assert.Equal(t, 20, Summarize(res.Test).Positives)
	assert.Equal(t, 16, Summarize(res.Val).Positives)
	assert.Equal(t, 64, Summarize(res.Train).Positives)
	assert.InDelta(t, 0.1, Summarize(res.Train).Prevalence, 1e-9)
}

func TestStratifiedIsAPartition(t *testing.T) {
	in := windows(257)
	res, err := Stratified(in, Config{TestFraction: 0.2, ValFraction: 0.25, Seed: 7})
	require.NoError(t, err)

	seen := make(map[int]int)
	for _, set := range [][]window.Window{res.Train, res.Val, res.Test} {
		for _, w := range set {
			seen[w.Hour]++
		}
	}
	assert.Len(t, seen, len(in))
	for h, c := range seen {
		assert.Equal(t, 1, c, "window %d assigned once", h)
	}

	// relative order preserved
	for _, set := range [][]window.Window{res.Train, res.Val, res.Test} {
		hs := hours(set)
		for i := 1; i < len(hs); i++ {
			assert.Less(t, hs[i-1], hs[i])
		}
	}
}

func TestStratifiedIsReproducible(t *testing.T) {
	cfg := Config{TestFraction: 0.2, ValFraction: 0.2, Seed: 42}
	a, err := Stratified(windows(300), cfg)
	require.NoError(t, err)
	b, err := Stratified(windows(300), cfg)
	require.NoError(t, err)

	assert.Equal(t, hours(a.Test), hours(b.Test))
	assert.Equal(t, hours(a.Val), hours(b.Val))

	cfg.Seed = 43
	c, err := Stratified(windows(300), cfg)
	require.NoError(t, err)
	assert.NotEqual(t, hours(a.Test), hours(c.Test))
}

func TestStratifiedErrors(t *testing.T) {
	_, err := Stratified(windows(10), Config{TestFraction: 0, ValFraction: 0.2})
	assert.Error(t, err)

	_, err = Stratified(windows(1), Config{TestFraction: 0.2, ValFraction: 0.2})
	assert.Error(t, err)

	unlabelled := windows(10)
	unlabelled[3].Label = nil
	_, err = Stratified(unlabelled, Config{TestFraction: 0.2, ValFraction: 0.2})
	assert.Error(t, err)
}

func TestAllocateLargestRemainder(t *testing.T) {
	byLabel := map[int][]int{0: make([]int, 7), 1: make([]int, 3)}
	quota := allocate([]int{0, 1}, byLabel, 3, 10)
	assert.Equal(t, 2, quota[0])
	assert.Equal(t, 1, quota[1])
}
