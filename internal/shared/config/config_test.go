package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Pipeline.WindowSize)
	assert.Equal(t, 1, cfg.Pipeline.Stride)
	assert.Equal(t, 0.1799, cfg.Pipeline.DecisionThreshold)
	assert.Equal(t, 0.2, cfg.Pipeline.TestFraction)
	assert.Equal(t, 0.2, cfg.Pipeline.ValFraction)
	assert.Equal(t, uint64(42), cfg.Pipeline.Seed)
	assert.Equal(t, 2*time.Second, cfg.Scoring.Timeout)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, 10, cfg.Database.MaxConns)
	assert.Equal(t, 2, cfg.Database.MinConns)
	assert.Equal(t, time.Hour, cfg.Database.MaxConnLifetime)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PIPELINE_WINDOW_SIZE", "8")
	t.Setenv("PIPELINE_DECISION_THRESHOLD", "0.25")
	t.Setenv("SCORING_TIMEOUT", "750ms")
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("DB_MAX_CONNS", "32")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pipeline.WindowSize)
	assert.Equal(t, 0.25, cfg.Pipeline.DecisionThreshold)
	assert.Equal(t, 750*time.Millisecond, cfg.Scoring.Timeout)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, 32, cfg.Database.MaxConns)
}

func TestLoadRejectsInvalidPipeline(t *testing.T) {
	t.Setenv("PIPELINE_WINDOW_SIZE", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestPipelineValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PipelineConfig)
		wantErr bool
	}{
		{"defaults", func(p *PipelineConfig) {}, false},
		{"zero stride", func(p *PipelineConfig) { p.Stride = 0 }, true},
		{"threshold above one", func(p *PipelineConfig) { p.DecisionThreshold = 1.2 }, true},
		{"test fraction zero", func(p *PipelineConfig) { p.TestFraction = 0 }, true},
		{"half of the remainder", func(p *PipelineConfig) { p.TestFraction = 0.5; p.ValFraction = 0.5 }, false},
		{"validation fraction one", func(p *PipelineConfig) { p.ValFraction = 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPipeline()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "sepsis", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=sepsis sslmode=disable", d.DSN())
}
