// Package split partitions labelled windows into train, validation and test
// sets, stratified on the label.
//
// Windows are split individually. Overlapping windows of one patient can land
// in different sets.
package split

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/sepsisguard/platform/internal/window"
)

// Config holds the split fractions. ValFraction applies to what remains
// after the test set is carved out.
type Config struct {
	TestFraction float64
	ValFraction  float64
	Seed         uint64
}

// Result holds the three sets. Each keeps the relative input order.
type Result struct {
	Train []window.Window
	Val   []window.Window
	Test  []window.Window
}

// Stats summarises one set.
type Stats struct {
	Count      int     `json:"count"`
	Positives  int     `json:"positives"`
	Prevalence float64 `json:"prevalence"`
}

// Summarize counts windows and positive labels.
func Summarize(windows []window.Window) Stats {
	s := Stats{Count: len(windows)}
	for _, w := range windows {
		if w.Label != nil && *w.Label == 1 {
			s.Positives++
		}
	}
	if s.Count > 0 {
		s.Prevalence = float64(s.Positives) / float64(s.Count)
	}
	return s
}

// Stratified carves out the test set, then the validation set from the
// remainder, both stratified on the label and seeded for reproducibility.
func Stratified(windows []window.Window, cfg Config) (Result, error) {
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		return Result{}, fmt.Errorf("test fraction must be within (0,1), got %g", cfg.TestFraction)
	}
	if cfg.ValFraction <= 0 || cfg.ValFraction >= 1 {
		return Result{}, fmt.Errorf("validation fraction must be within (0,1), got %g", cfg.ValFraction)
	}
	for i, w := range windows {
		if w.Label == nil {
			return Result{}, fmt.Errorf("window %d (patient %s hour %d) has no label", i, w.PatientID, w.Hour)
		}
	}

	rest, test, err := stratifiedSplit(windows, cfg.TestFraction, cfg.Seed)
	if err != nil {
		return Result{}, fmt.Errorf("test split: %w", err)
	}
	train, val, err := stratifiedSplit(rest, cfg.ValFraction, cfg.Seed)
	if err != nil {
		return Result{}, fmt.Errorf("validation split: %w", err)
	}

	return Result{Train: train, Val: val, Test: test}, nil
}

// stratifiedSplit holds out ceil(fraction*n) windows, allocated across
// labels in proportion to their counts.
func stratifiedSplit(windows []window.Window, fraction float64, seed uint64) (kept, held []window.Window, err error) {
	n := len(windows)
	nHeld := int(math.Ceil(fraction * float64(n)))
	if nHeld < 1 || nHeld >= n {
		return nil, nil, fmt.Errorf("cannot hold out %g of %d windows", fraction, n)
	}

	byLabel := make(map[int][]int)
	for i, w := range windows {
		byLabel[*w.Label] = append(byLabel[*w.Label], i)
	}
	labels := make([]int, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Ints(labels)

	quota := allocate(labels, byLabel, nHeld, n)

	rng := rand.New(rand.NewPCG(seed, seed))
	heldIdx := make(map[int]bool, nHeld)
	for _, l := range labels {
		idx := append([]int(nil), byLabel[l]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx[:quota[l]] {
			heldIdx[i] = true
		}
	}

	kept = make([]window.Window, 0, n-nHeld)
	held = make([]window.Window, 0, nHeld)
	for i, w := range windows {
		if heldIdx[i] {
			held = append(held, w)
		} else {
			kept = append(kept, w)
		}
	}
	return kept, held, nil
}

// allocate distributes total slots by largest remainder.
func allocate(labels []int, byLabel map[int][]int, total, n int) map[int]int {
	quota := make(map[int]int, len(labels))
	type remainder struct {
		label int
		frac  float64
	}
	var rems []remainder
	assigned := 0
	for _, l := range labels {
		exact := float64(total) * float64(len(byLabel[l])) / float64(n)
		q := int(math.Floor(exact))
		quota[l] = q
		assigned += q
		rems = append(rems, remainder{label: l, frac: exact - float64(q)})
	}

	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < total && i < len(rems)*2; i++ {
		r := rems[i%len(rems)]
		if quota[r.label] < len(byLabel[r.label]) {
			quota[r.label]++
			assigned++
		}
	}
	return quota
}
