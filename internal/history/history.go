// Package history stores each patient's submitted hours in ascending hour
// order, one entry per hour.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sepsisguard/platform/internal/record"
	"github.com/sepsisguard/platform/internal/risk"
	"github.com/sepsisguard/platform/internal/transform"
)

// Entry is one stored hour.
type Entry struct {
	Hour   int                     `json:"hour"`
	Fields map[string]record.Value `json:"fields"`
	Vector transform.FeatureVector `json:"-"`
	// Lineage is the transform that produced Vector
	Lineage    uuid.UUID `json:"-"`
	Assessment *Scored   `json:"assessment,omitempty"`
}

// Record rebuilds the submitted record.
func (e Entry) Record(patientID string) record.Record {
	return record.Record{PatientID: patientID, Hour: e.Hour, Fields: e.Fields}
}

// Scored is the assessment served for an entry's own hour.
type Scored struct {
	ID          uuid.UUID  `json:"id"`
	Probability float64    `json:"probability"`
	Decision    bool       `json:"decision"`
	Tier        risk.Level `json:"tier"`
	Padded      int        `json:"padded"`
	ScoredAt    time.Time  `json:"scored_at"`
}

// Store persists patient histories. Callers serialize writes per patient
// with Locks; a Store only has to be safe for concurrent use across patients.
type Store interface {
	// Before returns entries with hour < hour, ascending.
	Before(ctx context.Context, patientID string, hour int) ([]Entry, error)
	// Upsert inserts the entry or replaces the one with the same hour.
	Upsert(ctx context.Context, patientID string, entry Entry) (replaced bool, err error)
	// List returns every entry, ascending.
	List(ctx context.Context, patientID string) ([]Entry, error)
}

// Locks hands out one mutex per patient. Entries are dropped once no
// goroutine holds or waits for them.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*patientLock
}

type patientLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*patientLock)}
}

// Lock blocks until the patient is free and returns the unlock function.
func (l *Locks) Lock(patientID string) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.locks[patientID]
	if !ok {
		pl = &patientLock{}
		l.locks[patientID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()

	return func() {
		pl.mu.Unlock()

		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, patientID)
		}
		l.mu.Unlock()
	}
}

// Len is the number of patients currently locked or waited on.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
