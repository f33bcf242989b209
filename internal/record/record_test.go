package record

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw     string
		missing bool
		number  bool
		want    float64
		text    string
	}{
		{raw: "", missing: true},
		{raw: "NaN", missing: true},
		{raw: " nan ", missing: true},
		{raw: "NA", missing: true},
		{raw: "85", number: true, want: 85, text: "85"},
		{raw: "37.2", number: true, want: 37.2, text: "37.2"},
		{raw: "-3", number: true, want: -3, text: "-3"},
		{raw: "M", text: "M"},
		{raw: "Inf", text: "Inf"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v := Parse(tt.raw)
			assert.Equal(t, tt.missing, v.IsMissing())
			assert.Equal(t, tt.number, v.IsNumber())
			if tt.number {
				f, ok := v.Float()
				require.True(t, ok)
				assert.Equal(t, tt.want, f)
			}
			assert.Equal(t, tt.text, v.String())
		})
	}
}

func TestNumberNaNIsMissing(t *testing.T) {
	assert.True(t, Number(math.NaN()).IsMissing())
	assert.True(t, Text("").IsMissing())
}

func TestFromRaw(t *testing.T) {
	rec := FromRaw("p1", 3, map[string]any{
		"HR":     float64(88),
		"Temp":   "37.5",
		"Gender": "F",
		"MAP":    nil,
		"Resp":   "",
	})

	assert.Equal(t, "p1", rec.PatientID)
	assert.Equal(t, 3, rec.Hour)

	hr, ok := rec.Get("HR").Float()
	require.True(t, ok)
	assert.Equal(t, 88.0, hr)

	temp, ok := rec.Get("Temp").Float()
	require.True(t, ok)
	assert.Equal(t, 37.5, temp)

	assert.True(t, rec.Get("Gender").IsText())
	assert.True(t, rec.Get("MAP").IsMissing())
	assert.True(t, rec.Get("Resp").IsMissing())
	assert.True(t, rec.Get("absent").IsMissing())
}

func TestSentinel(t *testing.T) {
	s := Sentinel()
	assert.True(t, s.Sentinel)
	assert.Empty(t, s.Fields)
	assert.True(t, s.Get("HR").IsMissing())
}

func TestCloneIsDeep(t *testing.T) {
	label := 1
	rec := Record{PatientID: "p", Hour: 1, Fields: map[string]Value{"HR": Number(90)}, Label: &label}
	c := rec.Clone()
	c.Fields["HR"] = Number(100)
	*c.Label = 0

	hr, _ := rec.Get("HR").Float()
	assert.Equal(t, 90.0, hr)
	assert.Equal(t, 1, *rec.Label)
}

func TestValueJSON(t *testing.T) {
	in := map[string]Value{"HR": Number(91.5), "Gender": Text("M"), "MAP": Missing()}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out map[string]Value
	require.NoError(t, json.Unmarshal(data, &out))

	hr, ok := out["HR"].Float()
	require.True(t, ok)
	assert.Equal(t, 91.5, hr)
	assert.Equal(t, "M", out["Gender"].String())
	assert.True(t, out["MAP"].IsMissing())
}
