// Package scoring serves risk assessments: one hour at a time for live
// patients, and in bulk for prepared windows and offline datasets.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sepsisguard/platform/internal/history"
	"github.com/sepsisguard/platform/internal/record"
	"github.com/sepsisguard/platform/internal/risk"
	"github.com/sepsisguard/platform/internal/shared/config"
	"github.com/sepsisguard/platform/internal/shared/errors"
	"github.com/sepsisguard/platform/internal/shared/events"
	"github.com/sepsisguard/platform/internal/shared/metrics"
	"github.com/sepsisguard/platform/internal/transform"
	"github.com/sepsisguard/platform/internal/vitals"
	"github.com/sepsisguard/platform/internal/window"
	"go.uber.org/zap"
)

const eventSource = "scoring"

// Config holds the serving constants.
type Config struct {
	WindowSize int
	Threshold  float64
	// Timeout bounds each call to the model; zero disables it
	Timeout time.Duration
}

// ConfigFrom picks the serving constants out of the process config.
func ConfigFrom(p config.PipelineConfig, s config.ScoringConfig) Config {
	return Config{WindowSize: p.WindowSize, Threshold: p.DecisionThreshold, Timeout: s.Timeout}
}

// Submission is one hour of observations for one patient.
type Submission struct {
	PatientID string
	Hour      int
	Values    map[string]any
}

// Assessment is the result of scoring one window.
type Assessment struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   string     `json:"patient_id"`
	Hour        int        `json:"hour"`
	Probability float64    `json:"probability"`
	Decision    bool       `json:"decision_flag"`
	Tier        risk.Level `json:"risk_tier"`
	Color       string     `json:"color"`
	Threshold   float64    `json:"threshold"`
	// Padded is the number of sentinel hours at the front of the window
	Padded int `json:"padded"`
	// Replaced is set when the hour overwrote an earlier submission
	Replaced bool      `json:"replaced"`
	ScoredAt time.Time `json:"scored_at"`
}

// Service scores windows against one fitted transform and one model. The
// transform and model are read-only; per-patient history writes are
// serialized with a lock per patient.
type Service struct {
	transform *transform.Transform
	scorer    Scorer
	store     history.Store
	locks     *history.Locks
	publisher events.Publisher
	builder   window.Builder
	cfg       Config
	sentinel  transform.FeatureVector
	logger    *zap.Logger
	now       func() time.Time
}

// NewService checks that the transform and model agree on the feature width.
func NewService(t *transform.Transform, scorer Scorer, store history.Store, publisher events.Publisher, cfg Config, logger *zap.Logger) (*Service, error) {
	if t == nil {
		return nil, errors.NotFitted("NewService")
	}
	if w := scorer.InputWidth(); w != 0 && w != t.Width() {
		return nil, errors.StaleArtifact(fmt.Sprintf("transform produces %d features, model expects %d", t.Width(), w))
	}
	builder, err := window.NewBuilder(cfg.WindowSize, 1)
	if err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	sentinel, err := t.Apply(record.Sentinel())
	if err != nil {
		return nil, errors.Wrap(err, "failed to transform sentinel record")
	}

	if publisher == nil {
		publisher = events.Discard{}
	}

	return &Service{
		transform: t,
		scorer:    scorer,
		store:     store,
		locks:     history.NewLocks(),
		publisher: publisher,
		builder:   builder,
		cfg:       cfg,
		sentinel:  sentinel,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Transform returns the fitted transform the service was built with.
func (s *Service) Transform() *transform.Transform { return s.transform }

// ScoreNextHour validates and transforms the submission, stores it in the
// patient's history and scores the window ending at its hour. Windows only
// see hours strictly before the submitted one, so resubmitting an hour
// replaces it and yields the same score as a fresh submission.
// Nothing is stored when validation, transform or scoring fails.
func (s *Service) ScoreNextHour(ctx context.Context, sub Submission) (*Assessment, error) {
	if sub.PatientID == "" {
		return nil, errors.BadRequest("patient id is required")
	}
	if sub.Hour < 0 {
		return nil, errors.BadRequest("hour must not be negative")
	}

	if res := vitals.Validate(sub.Values); !res.Valid {
		for _, v := range res.Violations {
			metrics.RecordViolation(v.Field)
		}
		metrics.RecordSubmission("rejected")
		s.publish(ctx, events.TypeAssessmentRejected, sub.PatientID, map[string]any{
			"hour":       sub.Hour,
			"violations": res.Messages(),
		})
		return nil, res.Err()
	}

	rec := record.FromRaw(sub.PatientID, sub.Hour, sub.Values)
	vec, err := s.transform.Apply(rec)
	if err != nil {
		var appErr *errors.AppError
		if errors.As(err, &appErr) && appErr.Details != nil {
			metrics.RecordTransformFailure(appErr.Details["column"])
		}
		metrics.RecordSubmission("transform_error")
		return nil, err
	}

	unlock := s.locks.Lock(sub.PatientID)
	defer unlock()

	prior, err := s.store.Before(ctx, sub.PatientID, sub.Hour)
	if err != nil {
		metrics.RecordSubmission("error")
		return nil, errors.Wrap(err, "failed to read patient history")
	}

	if keep := s.builder.Size - 1; len(prior) > keep {
		prior = prior[len(prior)-keep:]
	}
	vectors := make([]transform.FeatureVector, 0, len(prior)+1)
	for _, e := range prior {
		v, err := s.vectorFor(sub.PatientID, e)
		if err != nil {
			metrics.RecordSubmission("error")
			return nil, err
		}
		vectors = append(vectors, v)
	}
	vectors = append(vectors, vec)

	w := s.builder.Incremental(vectors, s.sentinel)
	w.PatientID = sub.PatientID
	w.Hour = sub.Hour

	probs, err := s.score(ctx, "incremental", [][]transform.FeatureVector{w.Vectors})
	if err != nil {
		metrics.RecordSubmission("error")
		return nil, err
	}
	p := probs[0]

	tier, err := risk.Classify(p)
	if err != nil {
		metrics.RecordSubmission("error")
		return nil, errors.Internal(fmt.Errorf("model output: %w", err))
	}

	a := &Assessment{
		ID:          uuid.New(),
		PatientID:   sub.PatientID,
		Hour:        sub.Hour,
		Probability: p,
		Decision:    risk.Decide(p, s.cfg.Threshold),
		Tier:        tier.Level,
		Color:       tier.Color,
		Threshold:   s.cfg.Threshold,
		Padded:      w.Padded,
		ScoredAt:    s.now(),
	}

	replaced, err := s.store.Upsert(ctx, sub.PatientID, history.Entry{
		Hour:    sub.Hour,
		Fields:  rec.Fields,
		Vector:  vec,
		Lineage: s.transform.Lineage(),
		Assessment: &history.Scored{
			ID:          a.ID,
			Probability: a.Probability,
			Decision:    a.Decision,
			Tier:        a.Tier,
			Padded:      a.Padded,
			ScoredAt:    a.ScoredAt,
		},
	})
	if err != nil {
		metrics.RecordSubmission("error")
		return nil, errors.Wrap(err, "failed to store patient hour")
	}
	a.Replaced = replaced

	metrics.RecordSubmission("scored")
	metrics.RecordAssessment(string(a.Tier), a.Decision, a.Padded > 0)
	s.publish(ctx, events.TypeAssessmentScored, sub.PatientID, a)

	s.logger.Info("assessment scored",
		zap.String("patient_id", a.PatientID),
		zap.Int("hour", a.Hour),
		zap.Float64("probability", a.Probability),
		zap.Bool("decision", a.Decision),
		zap.String("tier", string(a.Tier)),
		zap.Int("padded", a.Padded),
		zap.Bool("replaced", a.Replaced),
	)

	return a, nil
}

// vectorFor returns the stored vector, recomputing it from the stored fields
// when it was produced by a different transform.
func (s *Service) vectorFor(patientID string, e history.Entry) (transform.FeatureVector, error) {
	if e.Lineage == s.transform.Lineage() && len(e.Vector) == s.transform.Width() {
		return e.Vector, nil
	}
	v, err := s.transform.Apply(e.Record(patientID))
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to re-transform hour %d", e.Hour))
	}
	return v, nil
}

// ScoreBatch returns one probability per window. Windows are checked for
// shape before anything reaches the model.
func (s *Service) ScoreBatch(ctx context.Context, windows []window.Window) ([]float64, error) {
	if len(windows) == 0 {
		return nil, nil
	}

	width := s.transform.Width()
	batch := make([][]transform.FeatureVector, len(windows))
	for i, w := range windows {
		if len(w.Vectors) != s.builder.Size {
			return nil, errors.BadRequest(fmt.Sprintf("window %d has %d hours, expected %d", i, len(w.Vectors), s.builder.Size))
		}
		for _, v := range w.Vectors {
			if len(v) != width {
				return nil, errors.StaleArtifact(fmt.Sprintf("window %d has a %d-wide vector, transform width is %d", i, len(v), width))
			}
		}
		batch[i] = w.Vectors
	}

	return s.score(ctx, "batch", batch)
}

func (s *Service) score(ctx context.Context, mode string, batch [][]transform.FeatureVector) ([]float64, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	probs, err := s.scorer.Score(ctx, batch)
	metrics.RecordScoring(mode, err, time.Since(start))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Timeout("model scoring", err)
		}
		return nil, errors.Wrap(err, "model scoring failed")
	}
	if len(probs) != len(batch) {
		return nil, errors.Internal(fmt.Errorf("model returned %d probabilities for %d windows", len(probs), len(batch)))
	}
	return probs, nil
}

// History returns the stored hours of a patient.
func (s *Service) History(ctx context.Context, patientID string) ([]history.Entry, error) {
	entries, err := s.store.List(ctx, patientID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read patient history")
	}
	return entries, nil
}

// Event delivery is best effort; a scored hour is already stored.
func (s *Service) publish(ctx context.Context, eventType, patientID string, data any) {
	event := events.NewEvent(eventType, eventSource, patientID, data)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", eventType),
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}
}
