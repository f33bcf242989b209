package database

import (
	"testing"
	"time"

	"github.com/sepsisguard/platform/internal/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabaseConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host: "localhost", Port: 5432, User: "sepsis", Password: "sepsis",
		Database: "sepsis", SSLMode: "disable",
	}
}

func TestPoolConfigAppliesBounds(t *testing.T) {
	cfg := testDatabaseConfig()
	cfg.MaxConns = 24
	cfg.MinConns = 4
	cfg.MaxConnLifetime = 15 * time.Minute

	pc, err := PoolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(24), pc.MaxConns)
	assert.Equal(t, int32(4), pc.MinConns)
	assert.Equal(t, 15*time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, "sepsis-scoring", pc.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "sepsis", pc.ConnConfig.Database)
}

func TestPoolConfigClampsMinConns(t *testing.T) {
	cfg := testDatabaseConfig()
	cfg.MaxConns = 3
	cfg.MinConns = 8

	pc, err := PoolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(3), pc.MinConns)
}

func TestPoolConfigKeepsDefaultsForZero(t *testing.T) {
	defaults, err := PoolConfig(testDatabaseConfig())
	require.NoError(t, err)
	assert.Positive(t, defaults.MaxConns)
	assert.Equal(t, int32(0), defaults.MinConns)
}

func TestHealthProbeTargetsHistory(t *testing.T) {
	assert.Contains(t, historyProbe, "patient_hours")
}
