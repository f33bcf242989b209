package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	Pipeline  PipelineConfig
	Scoring   ScoringConfig
	HIS       HISConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// RateLimitRPS is the per-client request budget on the submission API
	RateLimitRPS   int
	RateLimitBurst int
}

type DatabaseConfig struct {
	// Enabled switches the history store from in-memory to Postgres
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Pool bounds for the history store. Each submission holds one
	// connection for a read and a two-statement upsert.
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

// PipelineConfig holds the windowing and split constants shared by the
// offline dataset job and the serving path.
type PipelineConfig struct {
	WindowSize        int
	Stride            int
	DecisionThreshold float64
	TestFraction      float64
	// ValFraction is taken from what remains after the test split
	ValFraction       float64
	Seed              uint64
}

// ScoringConfig describes the external sequence model.
type ScoringConfig struct {
	ModelURL     string
	ModelName    string
	Timeout      time.Duration
	// FeatureWidth is the per-hour input width the model was trained on.
	// 0 reads it from the model's metadata at startup.
	FeatureWidth int
	ArtifactPath string
}

// HISConfig configures the Heliant SQL Server source used for dataset preparation.
type HISConfig struct {
	Host             string
	Port             int
	Database         string
	User             string
	Password         string
	SSLMode          string
	InstitutionName  string
	ObservationTable string
	LabelTable       string
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			Env:            getEnv("ENV", "development"),
			RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "sepsis"),
			Password: getEnv("DB_PASSWORD", "sepsis"),
			Database: getEnv("DB_NAME", "sepsis"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxConns:        getEnvInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:  getEnvBool("KURRENTDB_ENABLED", false),
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Pipeline: PipelineConfig{
			WindowSize:        getEnvInt("PIPELINE_WINDOW_SIZE", 6),
			Stride:            getEnvInt("PIPELINE_STRIDE", 1),
			DecisionThreshold: getEnvFloat("PIPELINE_DECISION_THRESHOLD", 0.1799),
			TestFraction:      getEnvFloat("PIPELINE_TEST_FRACTION", 0.2),
			ValFraction:       getEnvFloat("PIPELINE_VAL_FRACTION", 0.2),
			Seed:              uint64(getEnvInt("PIPELINE_SEED", 42)),
		},
		Scoring: ScoringConfig{
			ModelURL:     getEnv("SCORING_MODEL_URL", "http://localhost:8501"),
			ModelName:    getEnv("SCORING_MODEL_NAME", "sepsis_gru"),
			Timeout:      getEnvDuration("SCORING_TIMEOUT", 2*time.Second),
			FeatureWidth: getEnvInt("SCORING_FEATURE_WIDTH", 0),
			ArtifactPath: getEnv("SCORING_ARTIFACT_PATH", "data/processed/transform.json"),
		},
		HIS: HISConfig{
			Host:             getEnv("HIS_HOST", "localhost"),
			Port:             getEnvInt("HIS_PORT", 1433),
			Database:         getEnv("HIS_DATABASE", "heliant"),
			User:             getEnv("HIS_USER", "sa"),
			Password:         getEnv("HIS_PASSWORD", ""),
			SSLMode:          getEnv("HIS_SSLMODE", "disable"),
			InstitutionName:  getEnv("HIS_INSTITUTION", ""),
			ObservationTable: getEnv("HIS_OBSERVATION_TABLE", "dbo.IcuObservations"),
			LabelTable:       getEnv("HIS_LABEL_TABLE", "dbo.SepsisLabels"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPipeline returns the constants the model lineage was built with.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		WindowSize:        6,
		Stride:            1,
		DecisionThreshold: 0.1799,
		TestFraction:      0.2,
		ValFraction:       0.2,
		Seed:              42,
	}
}

// Validate rejects pipeline settings that cannot produce windows or splits.
func (p PipelineConfig) Validate() error {
	if p.WindowSize < 1 {
		return fmt.Errorf("window size must be at least 1, got %d", p.WindowSize)
	}
	if p.Stride < 1 {
		return fmt.Errorf("stride must be at least 1, got %d", p.Stride)
	}
	if p.DecisionThreshold < 0 || p.DecisionThreshold > 1 {
		return fmt.Errorf("decision threshold must be within [0,1], got %g", p.DecisionThreshold)
	}
	if p.TestFraction <= 0 || p.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be within (0,1), got %g", p.TestFraction)
	}
	if p.ValFraction <= 0 || p.ValFraction >= 1 {
		return fmt.Errorf("validation fraction must be within (0,1), got %g", p.ValFraction)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
