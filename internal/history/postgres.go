package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sepsisguard/platform/internal/record"
	"github.com/sepsisguard/platform/internal/risk"
	"github.com/sepsisguard/platform/internal/shared/errors"
	"github.com/sepsisguard/platform/internal/shared/metrics"
)

// PostgresStore keeps histories in the patient_hours and assessments tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectEntries = `
	SELECT h.hour, h.fields, h.vector, h.lineage,
		a.id, a.probability, a.decision, a.tier, a.padded, a.scored_at
	FROM patient_hours h
	LEFT JOIN assessments a ON a.patient_id = h.patient_id AND a.hour = h.hour
	WHERE h.patient_id = $1`

func (s *PostgresStore) Before(ctx context.Context, patientID string, hour int) ([]Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("history_before", time.Since(start)) }()

	rows, err := s.pool.Query(ctx, selectEntries+` AND h.hour < $2 ORDER BY h.hour`, patientID, hour)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query patient history")
	}
	return scanEntries(rows)
}

func (s *PostgresStore) List(ctx context.Context, patientID string) ([]Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("history_list", time.Since(start)) }()

	rows, err := s.pool.Query(ctx, selectEntries+` ORDER BY h.hour`, patientID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query patient history")
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			fieldsJSON []byte
			id         *uuid.UUID
			prob       *float64
			decision   *bool
			tier       *string
			padded     *int
			scoredAt   *time.Time
		)
		if err := rows.Scan(&e.Hour, &fieldsJSON, &e.Vector, &e.Lineage,
			&id, &prob, &decision, &tier, &padded, &scoredAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan patient hour")
		}
		if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
			return nil, errors.Wrap(err, "failed to decode patient hour fields")
		}
		if e.Fields == nil {
			e.Fields = map[string]record.Value{}
		}
		if id != nil {
			e.Assessment = &Scored{
				ID:          *id,
				Probability: *prob,
				Decision:    *decision,
				Tier:        risk.Level(*tier),
				Padded:      *padded,
				ScoredAt:    *scoredAt,
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate patient history")
	}
	return entries, nil
}

// Upsert writes the hour and its assessment in one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, patientID string, entry Entry) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("history_upsert", time.Since(start)) }()

	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal fields")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var replaced bool
	err = tx.QueryRow(ctx, `
		INSERT INTO patient_hours (patient_id, hour, fields, vector, lineage, submitted_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (patient_id, hour) DO UPDATE SET
			fields = EXCLUDED.fields,
			vector = EXCLUDED.vector,
			lineage = EXCLUDED.lineage,
			submitted_at = EXCLUDED.submitted_at
		RETURNING (xmax <> 0)`,
		patientID, entry.Hour, fieldsJSON, []float64(entry.Vector), entry.Lineage,
	).Scan(&replaced)
	if err != nil {
		return false, errors.Wrap(err, "failed to upsert patient hour")
	}

	if a := entry.Assessment; a != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO assessments (id, patient_id, hour, probability, decision, tier, padded, scored_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (patient_id, hour) DO UPDATE SET
				id = EXCLUDED.id,
				probability = EXCLUDED.probability,
				decision = EXCLUDED.decision,
				tier = EXCLUDED.tier,
				padded = EXCLUDED.padded,
				scored_at = EXCLUDED.scored_at`,
			a.ID, patientID, entry.Hour, a.Probability, a.Decision, string(a.Tier), a.Padded, a.ScoredAt,
		)
		if err != nil {
			return false, errors.Wrap(err, "failed to upsert assessment")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "failed to commit transaction")
	}
	return replaced, nil
}
