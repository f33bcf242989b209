package heliant

import (
	"context"
	"testing"
	"time"

	"github.com/sepsisguard/platform/internal/dataset"
	"github.com/sepsisguard/platform/internal/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admit = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func num(f float64) *float64 { return &f }

func obs(stay string, minutes int, code string, v *float64, text string) Observation {
	return Observation{
		StayID:     stay,
		AdmittedAt: admit,
		ObservedAt: admit.Add(time.Duration(minutes) * time.Minute),
		Code:       code,
		Numeric:    v,
		Text:       text,
	}
}

func TestHourIndex(t *testing.T) {
	assert.Equal(t, 1, HourIndex(admit, admit))
	assert.Equal(t, 1, HourIndex(admit, admit.Add(59*time.Minute)))
	assert.Equal(t, 2, HourIndex(admit, admit.Add(time.Hour)))
	assert.Equal(t, 1, HourIndex(admit, admit.Add(-time.Minute)))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, 0, Label(3, 10, true))
	assert.Equal(t, 1, Label(4, 10, true))
	assert.Equal(t, 1, Label(12, 10, true))
	assert.Equal(t, 0, Label(12, 10, false))
}

func TestPivot(t *testing.T) {
	observations := []Observation{
		obs("20", 10, "8867-4", num(88), ""),
		obs("20", 40, "8867-4", num(92), ""), // later in the same hour wins
		obs("20", 15, "8310-5", num(37.2), ""),
		obs("20", 70, "8867-4", num(95), ""),
		obs("20", 75, "Lactate", nil, "2.4"), // already a field name
		obs("20", 80, "unknown", num(1), ""),
		obs("3", 5, "59408-5", num(97), ""),
		obs("3", 6, "8310-5", nil, "NaN"),
	}
	onsets := map[string]time.Time{"20": admit.Add(5 * time.Hour)}

	d := Pivot(observations, onsets, DefaultCodes)

	assert.Equal(t, []string{
		dataset.ColumnPatient, dataset.ColumnHour,
		"HR", "Temp", "O2Sat", "Lactate",
		dataset.ColumnLabel,
	}, d.Columns)

	require.Len(t, d.Rows, 3)
	// numeric patient order
	assert.Equal(t, "3", d.Rows[0].PatientID)
	assert.Equal(t, "20", d.Rows[1].PatientID)

	hr, _ := d.Rows[1].Fields["HR"].Float()
	assert.Equal(t, 92.0, hr)
	assert.Equal(t, 1, d.Rows[1].Hour)
	assert.Equal(t, 2, d.Rows[2].Hour)

	lactate, ok := d.Rows[2].Fields["Lactate"].Float()
	require.True(t, ok)
	assert.Equal(t, 2.4, lactate)
	assert.NotContains(t, d.Rows[2].Fields, "unknown")
	assert.NotContains(t, d.Rows[0].Fields, "Temp")

	// onset in hour 6, so every hour from 0 is positive
	assert.Equal(t, 1, *d.Rows[1].Label)
	assert.Equal(t, 0, *d.Rows[0].Label)

	cols, err := dataset.Classify(d)
	require.NoError(t, err)
	assert.Equal(t, []string{"HR", "Temp", "O2Sat", "Lactate"}, cols.Numerical)
}

func TestConnectionString(t *testing.T) {
	cfg := config.HISConfig{Host: "his.local", Port: 1433, Database: "heliant", User: "reader", Password: "pw", SSLMode: "disable"}
	assert.Equal(t, "server=his.local;port=1433;database=heliant;user id=reader;password=pw", connectionString(cfg))

	cfg.SSLMode = "require"
	assert.Contains(t, connectionString(cfg), ";encrypt=true")
}

func TestNotConnected(t *testing.T) {
	a := New(config.HISConfig{}, nil)
	assert.False(t, a.IsConnected())
	assert.Equal(t, "heliant", a.SourceSystem())
	assert.Error(t, a.Health(context.Background()))

	_, err := a.FetchDataset(context.Background(), admit, admit.Add(time.Hour))
	assert.Error(t, err)
	assert.NoError(t, a.Stop())
}
