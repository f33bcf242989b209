package risk

import (
	"math"
	"testing"
)

func TestClassifyBands(t *testing.T) {
	tests := []struct {
		p    float64
		want Level
	}{
		{0, VeryLow},
		{0.0999, VeryLow},
		{0.1, Low},
		{0.18, Low},
		{0.2999, Low},
		{0.3, Moderate},
		{0.5, High},
		{0.6999, High},
		{0.7, VeryHigh},
		{1, VeryHigh},
	}

	for _, tt := range tests {
		got, err := Classify(tt.p)
		if err != nil {
			t.Fatalf("Classify(%v) returned error: %v", tt.p, err)
		}
		if got.Level != tt.want {
			t.Errorf("Classify(%v) = %s, expected %s", tt.p, got.Level, tt.want)
		}
	}
}

func TestTiersExhaustiveAndDisjoint(t *testing.T) {
	for i := 0; i <= 10000; i++ {
		p := float64(i) / 10000
		matches := 0
		for j, tier := range Tiers {
			last := j == len(Tiers)-1
			if p >= tier.Lower && (p < tier.Upper || (last && p <= tier.Upper)) {
				matches++
			}
		}
		if matches != 1 {
			t.Fatalf("p=%v matched %d tiers", p, matches)
		}
		if _, err := Classify(p); err != nil {
			t.Fatalf("Classify(%v): %v", p, err)
		}
	}
}

func TestClassifyRejectsOutOfRange(t *testing.T) {
	for _, p := range []float64{-0.01, 1.01, math.NaN()} {
		if _, err := Classify(p); err == nil {
			t.Errorf("expected error for %v", p)
		}
	}
}

func TestDecisionIsIndependentOfTier(t *testing.T) {
	tier, _ := Classify(0.18)
	if tier.Level != Low {
		t.Errorf("expected low, got %s", tier.Level)
	}
	if !Decide(0.18, 0.1799) {
		t.Error("0.18 should be flagged at threshold 0.1799")
	}
	if Decide(0.1798, 0.1799) {
		t.Error("0.1798 should not be flagged")
	}
	if !Decide(0.1799, 0.1799) {
		t.Error("threshold itself is flagged")
	}
}

func TestOrdinalsAndColours(t *testing.T) {
	colours := []string{"#10b981", "#3b82f6", "#f59e0b", "#ef4444", "#dc2626"}
	for i, tier := range Tiers {
		if tier.Ordinal != i {
			t.Errorf("tier %s has ordinal %d, expected %d", tier.Level, tier.Ordinal, i)
		}
		if tier.Color != colours[i] {
			t.Errorf("tier %s has colour %s", tier.Level, tier.Color)
		}
	}
	if Compare(High, Low) <= 0 || Compare(VeryLow, Moderate) >= 0 || Compare(Low, Low) != 0 {
		t.Error("Compare does not follow ordinals")
	}
}
