// Package pipeline runs the offline dataset job: classify columns, clean,
// fit or replay the feature transform, build windows and split them.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sepsisguard/platform/internal/dataset"
	"github.com/sepsisguard/platform/internal/shared/config"
	"github.com/sepsisguard/platform/internal/shared/errors"
	"github.com/sepsisguard/platform/internal/shared/metrics"
	"github.com/sepsisguard/platform/internal/split"
	"github.com/sepsisguard/platform/internal/transform"
	"github.com/sepsisguard/platform/internal/window"
	"go.uber.org/zap"
)

// Options configures one run.
type Options struct {
	Pipeline config.PipelineConfig
	// Artifact is replayed instead of fitting a new transform when set
	Artifact *transform.Transform
}

// Report describes what a run did to the data.
type Report struct {
	Lineage    uuid.UUID               `json:"lineage"`
	Reused     bool                    `json:"reused_artifact"`
	Rows       int                     `json:"rows"`
	Duplicates int                     `json:"duplicates"`
	Nulled     map[string]int          `json:"nulled"`
	Columns    dataset.Columns         `json:"columns"`
	Empty      []string                `json:"empty_columns,omitempty"`
	Rejected   []transform.RecordError `json:"-"`
	Patients   int                     `json:"patients"`
	Windows    int                     `json:"windows"`
	Splits     map[string]split.Stats  `json:"splits"`
	Duration   time.Duration           `json:"duration"`
}

// Output is the result of a run.
type Output struct {
	Transform *transform.Transform
	Split     split.Result
	Report    Report
}

// Run builds the window sets from a raw dataset. Schema and artifact
// mismatches abort the run; rows the transform rejects are dropped and
// reported.
func Run(ctx context.Context, d *dataset.Dataset, opts Options, logger *zap.Logger) (*Output, error) {
	start := time.Now()
	cfg := opts.Pipeline
	if err := cfg.Validate(); err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	cols, err := dataset.Classify(d)
	if err != nil {
		return nil, err
	}
	logger.Info("columns classified",
		zap.Int("numerical", len(cols.Numerical)),
		zap.Int("categorical", len(cols.Categorical)),
	)

	cleaned, stats := dataset.Clean(d)
	logger.Info("dataset cleaned",
		zap.Int("rows", len(cleaned.Rows)),
		zap.Int("duplicates", stats.Duplicates),
		zap.Any("nulled", stats.Nulled),
	)

	t := opts.Artifact
	reused := t != nil
	if reused {
		if err := t.VerifyColumns(cols.Numerical, cols.Categorical); err != nil {
			return nil, err
		}
	} else {
		t, err = transform.Fit(cleaned.Rows, cols.Numerical, cols.Categorical)
		if err != nil {
			return nil, errors.Wrap(err, "failed to fit transform")
		}
	}
	if empty := t.EmptyColumns(); len(empty) > 0 {
		logger.Warn("columns with no observed values are imputed as zero", zap.Strings("columns", empty))
	}

	vectors, rejected, err := t.ApplyAll(cleaned.Rows)
	if err != nil {
		return nil, err
	}
	for i, row := range cleaned.Rows {
		if vectors[i] != nil && row.Label == nil {
			vectors[i] = nil
			rejected = append(rejected, transform.RecordError{
				Index:     i,
				PatientID: row.PatientID,
				Hour:      row.Hour,
				Err:       errors.Transform(dataset.ColumnLabel, "row has no label"),
			})
		}
	}
	for _, r := range rejected {
		column := ""
		var appErr *errors.AppError
		if errors.As(r.Err, &appErr) && appErr.Details != nil {
			column = appErr.Details["column"]
		}
		metrics.RecordTransformFailure(column)
		logger.Warn("row rejected",
			zap.String("patient_id", r.PatientID),
			zap.Int("hour", r.Hour),
			zap.Error(r.Err),
		)
	}

	seqs := sequences(cleaned, vectors)

	builder, err := window.NewBuilder(cfg.WindowSize, cfg.Stride)
	if err != nil {
		return nil, errors.BadRequest(err.Error())
	}
	windows, err := builder.Batch(ctx, seqs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build windows")
	}
	if len(windows) == 0 {
		return nil, errors.BadRequest(fmt.Sprintf("no patient has %d consecutive usable hours", cfg.WindowSize))
	}

	result, err := split.Stratified(windows, split.Config{
		TestFraction: cfg.TestFraction,
		ValFraction:  cfg.ValFraction,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return nil, errors.Wrap(errors.BadRequest(err.Error()), "failed to split windows")
	}

	report := Report{
		Lineage:    t.Lineage(),
		Reused:     reused,
		Rows:       len(cleaned.Rows),
		Duplicates: stats.Duplicates,
		Nulled:     stats.Nulled,
		Columns:    cols,
		Empty:      t.EmptyColumns(),
		Rejected:   rejected,
		Patients:   len(seqs),
		Windows:    len(windows),
		Splits: map[string]split.Stats{
			"train": split.Summarize(result.Train),
			"val":   split.Summarize(result.Val),
			"test":  split.Summarize(result.Test),
		},
		Duration: time.Since(start),
	}
	for name, s := range report.Splits {
		metrics.RecordBatchWindows(name, s.Count)
	}

	logger.Info("windows built",
		zap.String("lineage", report.Lineage.String()),
		zap.Int("patients", report.Patients),
		zap.Int("windows", report.Windows),
		zap.Int("rejected_rows", len(rejected)),
		zap.Int("train", report.Splits["train"].Count),
		zap.Int("val", report.Splits["val"].Count),
		zap.Int("test", report.Splits["test"].Count),
		zap.Duration("duration", report.Duration),
	)

	return &Output{Transform: t, Split: result, Report: report}, nil
}

// sequences groups the cleaned rows by patient in order of first
// appearance. Rejected rows are left out, so a window may span the gap one
// leaves.
func sequences(d *dataset.Dataset, vectors []transform.FeatureVector) []window.Sequence {
	index := make(map[string]int)
	var out []window.Sequence
	for i, row := range d.Rows {
		if vectors[i] == nil {
			continue
		}
		n, ok := index[row.PatientID]
		if !ok {
			n = len(out)
			index[row.PatientID] = n
			out = append(out, window.Sequence{PatientID: row.PatientID})
		}
		seq := &out[n]
		seq.Hours = append(seq.Hours, row.Hour)
		seq.Vectors = append(seq.Vectors, vectors[i])
		seq.Labels = append(seq.Labels, *row.Label)
	}
	return out
}
