// Package heliant reads hourly ICU observations and sepsis onset times from
// a Heliant HIS SQL Server database and shapes them into a training dataset.
package heliant

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/sepsisguard/platform/internal/dataset"
	"github.com/sepsisguard/platform/internal/shared/config"
)

// Adapter is a read-only connection to the HIS database.
type Adapter struct {
	db     *sql.DB
	config config.HISConfig
	codes  map[string]string

	running bool
	mu      sync.RWMutex
}

// New creates an adapter. codes maps HIS observation codes to dataset
// field names; nil uses DefaultCodes.
func New(cfg config.HISConfig, codes map[string]string) *Adapter {
	if codes == nil {
		codes = DefaultCodes
	}
	return &Adapter{config: cfg, codes: codes}
}

func connectionString(cfg config.HISConfig) string {
	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.User,
		cfg.Password,
	)
	if cfg.SSLMode != "disable" {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}
	return connStr
}

// Start opens and verifies the connection pool.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}

	db, err := sql.Open("sqlserver", connectionString(a.config))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	a.db = db
	a.running = true
	return nil
}

// Stop closes the connection pool.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false
	return a.db.Close()
}

// Health checks database connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("adapter not running")
	}
	return a.db.PingContext(ctx)
}

func (a *Adapter) SourceSystem() string {
	return "heliant"
}

func (a *Adapter) SourceInstitution() string {
	return a.config.InstitutionName
}

func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running && a.db != nil
}

// FetchDataset loads every ICU stay admitted in [from, to) as a dataset
// with one row per stay hour.
func (a *Adapter) FetchDataset(ctx context.Context, from, to time.Time) (*dataset.Dataset, error) {
	if !a.IsConnected() {
		return nil, fmt.Errorf("adapter not connected")
	}

	obs, err := a.fetchObservations(ctx, from, to)
	if err != nil {
		return nil, err
	}
	onsets, err := a.fetchOnsets(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return Pivot(obs, onsets, a.codes), nil
}

func (a *Adapter) fetchObservations(ctx context.Context, from, to time.Time) ([]Observation, error) {
	query := fmt.Sprintf(`
		SELECT
			o.StayID,
			o.AdmittedAt,
			o.ObservedAt,
			o.Code,
			o.NumericValue,
			o.TextValue
		FROM %s o
		WHERE o.AdmittedAt >= @from
		  AND o.AdmittedAt < @to
		ORDER BY o.StayID, o.ObservedAt
	`, a.config.ObservationTable)

	rows, err := a.db.QueryContext(ctx, query,
		sql.Named("from", from),
		sql.Named("to", to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		var num sql.NullFloat64
		var text sql.NullString

		if err := rows.Scan(&o.StayID, &o.AdmittedAt, &o.ObservedAt, &o.Code, &num, &text); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		if num.Valid {
			v := num.Float64
			o.Numeric = &v
		}
		if text.Valid {
			o.Text = text.String
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read observations: %w", err)
	}
	return out, nil
}

func (a *Adapter) fetchOnsets(ctx context.Context, from, to time.Time) (map[string]time.Time, error) {
	query := fmt.Sprintf(`
		SELECT l.StayID, l.SepsisOnset
		FROM %s l
		WHERE l.AdmittedAt >= @from
		  AND l.AdmittedAt < @to
		  AND l.SepsisOnset IS NOT NULL
	`, a.config.LabelTable)

	rows, err := a.db.QueryContext(ctx, query,
		sql.Named("from", from),
		sql.Named("to", to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sepsis onsets: %w", err)
	}
	defer rows.Close()

	onsets := make(map[string]time.Time)
	for rows.Next() {
		var stay string
		var onset time.Time
		if err := rows.Scan(&stay, &onset); err != nil {
			return nil, fmt.Errorf("failed to scan sepsis onset: %w", err)
		}
		onsets[stay] = onset
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sepsis onsets: %w", err)
	}
	return onsets, nil
}
