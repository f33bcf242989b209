// Package risk maps a probability to one of five descriptive tiers. The tiers
// are display bands only; the sepsis decision uses its own threshold.
package risk

import (
	"fmt"
	"math"
)

type Level string

const (
	VeryLow  Level = "very-low"
	Low      Level = "low"
	Moderate Level = "moderate"
	High     Level = "high"
	VeryHigh Level = "very-high"
)

// Tier is a half-open band [Lower, Upper). The last tier includes 1.
type Tier struct {
	Level   Level   `json:"level"`
	Ordinal int     `json:"ordinal"`
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
	Color   string  `json:"color"`
}

// Tiers in ascending order.
var Tiers = []Tier{
	{Level: VeryLow, Ordinal: 0, Lower: 0, Upper: 0.1, Color: "#10b981"},
	{Level: Low, Ordinal: 1, Lower: 0.1, Upper: 0.3, Color: "#3b82f6"},
	{Level: Moderate, Ordinal: 2, Lower: 0.3, Upper: 0.5, Color: "#f59e0b"},
	{Level: High, Ordinal: 3, Lower: 0.5, Upper: 0.7, Color: "#ef4444"},
	{Level: VeryHigh, Ordinal: 4, Lower: 0.7, Upper: 1, Color: "#dc2626"},
}

// Classify returns the tier containing p. p must lie in [0,1].
func Classify(p float64) (Tier, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return Tier{}, fmt.Errorf("probability %v outside [0,1]", p)
	}
	for _, t := range Tiers[:len(Tiers)-1] {
		if p < t.Upper {
			return t, nil
		}
	}
	return Tiers[len(Tiers)-1], nil
}

// Decide is the binary sepsis flag.
func Decide(p, threshold float64) bool {
	return p >= threshold
}

// Compare orders levels by ordinal. Unknown levels sort first.
func Compare(a, b Level) int {
	return ordinal(a) - ordinal(b)
}

func ordinal(l Level) int {
	for _, t := range Tiers {
		if t.Level == l {
			return t.Ordinal
		}
	}
	return -1
}
