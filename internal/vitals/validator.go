// Package vitals rejects hourly submissions whose values fall outside
// physiological bounds before they reach history or the feature transform.
package vitals

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sepsisguard/platform/internal/record"
	apperrors "github.com/sepsisguard/platform/internal/shared/errors"
)

// Violation describes one rejected field.
type Violation struct {
	Field string  `json:"field"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	// Value is nil when the raw value was not a number
	Value   *float64 `json:"value,omitempty"`
	Message string   `json:"message"`
}

// Result is the outcome of validating one submission.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Messages returns the violation messages in order.
func (r Result) Messages() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Message
	}
	return out
}

// Err returns a validation AppError listing every violation, or nil.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return apperrors.Validation("submission violates physiological bounds", r.Messages())
}

// Validate checks every bounded field present in values. Missing, nil and
// empty values are accepted. Fields without a bound are ignored. The input is
// never modified.
func Validate(values map[string]any) Result {
	res := Result{Valid: true}

	for _, b := range Bounds {
		raw, ok := values[b.Field]
		if !ok {
			continue
		}

		num, present, err := toFloat(raw)
		if !present {
			continue
		}
		if err != nil {
			res.Violations = append(res.Violations, Violation{
				Field:   b.Field,
				Min:     b.Min,
				Max:     b.Max,
				Message: fmt.Sprintf("%s must be a valid number", b.Field),
			})
			continue
		}
		if !b.Contains(num) {
			got := num
			res.Violations = append(res.Violations, Violation{
				Field: b.Field,
				Min:   b.Min,
				Max:   b.Max,
				Value: &got,
				Message: fmt.Sprintf("%s must be between %s and %s (got %s)",
					b.Field, formatNumber(b.Min), formatNumber(b.Max), formatNumber(num)),
			})
		}
	}

	res.Valid = len(res.Violations) == 0
	return res
}

// toFloat reports whether the value is present and, if so, its numeric form.
func toFloat(raw any) (float64, bool, error) {
	switch v := raw.(type) {
	case nil:
		return 0, false, nil
	case float64:
		if math.IsNaN(v) {
			return 0, false, nil
		}
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case string:
		s := strings.TrimSpace(v)
		if record.Parse(s).IsMissing() {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, true, err
		}
		return f, true, nil
	default:
		return 0, true, fmt.Errorf("unsupported type %T", raw)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
