package vitals

import (
	"testing"

	apperrors "github.com/sepsisguard/platform/internal/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundEdgesAccepted(t *testing.T) {
	for _, b := range Bounds {
		t.Run(b.Field, func(t *testing.T) {
			assert.True(t, Validate(map[string]any{b.Field: b.Min}).Valid, "min accepted")
			assert.True(t, Validate(map[string]any{b.Field: b.Max}).Valid, "max accepted")
		})
	}
}

func TestOneUnitOutsideRejected(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{39.0, "HR must be between 40 and 200 (got 39)"},
		{201.0, "HR must be between 40 and 200 (got 201)"},
		{"39", "HR must be between 40 and 200 (got 39)"},
	}

	for _, tt := range tests {
		res := Validate(map[string]any{"HR": tt.value})
		require.False(t, res.Valid)
		require.Len(t, res.Violations, 1)
		assert.Equal(t, "HR", res.Violations[0].Field)
		assert.Equal(t, tt.want, res.Violations[0].Message)
	}
}

func TestHeartRate205Rejected(t *testing.T) {
	res := Validate(map[string]any{"HR": 205})

	require.False(t, res.Valid)
	assert.Equal(t, []string{"HR must be between 40 and 200 (got 205)"}, res.Messages())
	require.NotNil(t, res.Violations[0].Value)
	assert.Equal(t, 205.0, *res.Violations[0].Value)

	err := res.Err()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestDecimalBoundsFormatting(t *testing.T) {
	res := Validate(map[string]any{"Creatinine": 0.2, "pH": 7.9})
	assert.Equal(t, []string{
		"Creatinine must be between 0.3 and 15 (got 0.2)",
		"pH must be between 6.8 and 7.8 (got 7.9)",
	}, res.Messages())
}

func TestMissingValuesAccepted(t *testing.T) {
	res := Validate(map[string]any{"HR": nil, "Temp": "", "MAP": "  "})
	assert.True(t, res.Valid)
	assert.NoError(t, res.Err())
}

func TestNonNumericRejected(t *testing.T) {
	res := Validate(map[string]any{"Lactate": "high", "Resp": true})

	require.False(t, res.Valid)
	assert.Equal(t, []string{
		"Resp must be a valid number",
		"Lactate must be a valid number",
	}, res.Messages())
	assert.Nil(t, res.Violations[0].Value)
}

func TestEveryViolationReportedInTableOrder(t *testing.T) {
	res := Validate(map[string]any{
		"Urine_output": 900,
		"HR":           10,
		"WBC":          0,
		"Temp":         50,
	})

	assert.Equal(t, []string{
		"HR must be between 40 and 200 (got 10)",
		"Temp must be between 35 and 42 (got 50)",
		"WBC must be between 1 and 50 (got 0)",
		"Urine_output must be between 0 and 500 (got 900)",
	}, res.Messages())

	var appErr *apperrors.AppError
	require.True(t, apperrors.As(res.Err(), &appErr))
	assert.Len(t, appErr.Violations, 4)
}

func TestUnboundedFieldsIgnored(t *testing.T) {
	res := Validate(map[string]any{"Age": 140, "Gender": "M", "Unit1": "x"})
	assert.True(t, res.Valid)
}

func TestValidateDoesNotMutate(t *testing.T) {
	in := map[string]any{"HR": 300, "Temp": "37"}
	Validate(in)
	assert.Equal(t, map[string]any{"HR": 300, "Temp": "37"}, in)
}

func TestLookup(t *testing.T) {
	b, ok := Lookup("INR")
	require.True(t, ok)
	assert.Equal(t, Bound{"INR", 0.5, 10}, b)

	_, ok = Lookup("Age")
	assert.False(t, ok)
	assert.Len(t, Bounds, 53)
}
