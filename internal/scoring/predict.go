package scoring

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/sepsisguard/platform/internal/dataset"
	"github.com/sepsisguard/platform/internal/record"
	"github.com/sepsisguard/platform/internal/risk"
	"github.com/sepsisguard/platform/internal/window"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// predictChunk bounds the number of windows per model call.
const predictChunk = 256

// Prediction is the offline result for one dataset row.
type Prediction struct {
	PatientID   string   `json:"patient_id"`
	Hour        int      `json:"hour"`
	Probability *float64 `json:"probability,omitempty"`
	Decision    *bool    `json:"decision,omitempty"`
	// InsufficientHistory marks rows with fewer than window-size hours
	// available; offline prediction never pads
	InsufficientHistory bool `json:"insufficient_history"`
	// Error is set when this row or one in its window could not be transformed
	Error string `json:"error,omitempty"`
}

// Summary describes the scored rows of an offline run.
type Summary struct {
	Rows         int     `json:"rows"`
	Scored       int     `json:"scored"`
	Insufficient int     `json:"insufficient_history"`
	Rejected     int     `json:"rejected"`
	Positives    int     `json:"positives"`
	Mean         float64 `json:"mean"`
	Min          float64 `json:"min"`
	Q25          float64 `json:"q25"`
	Median       float64 `json:"median"`
	Q75          float64 `json:"q75"`
	Max          float64 `json:"max"`
}

// PredictDataset scores every row of a multi-patient dataset using the
// window of hours ending at that row. Each patient's rows are ordered by
// hour first. Predictions come back grouped by patient in order of first
// appearance.
func (s *Service) PredictDataset(ctx context.Context, d *dataset.Dataset) ([]Prediction, Summary, error) {
	size := s.builder.Size

	var (
		preds   []Prediction
		windows []window.Window
		targets []int
	)
	for _, seq := range d.Sequences() {
		rows := make([]record.Record, len(seq.Rows))
		copy(rows, seq.Rows)
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Hour < rows[j].Hour })

		vectors, rejected, err := s.transform.ApplyAll(rows)
		if err != nil {
			return nil, Summary{}, err
		}
		bad := make(map[int]string, len(rejected))
		for _, r := range rejected {
			bad[r.Index] = r.Err.Error()
		}

		for i, row := range rows {
			p := Prediction{PatientID: seq.PatientID, Hour: row.Hour}
			switch {
			case i+1 < size:
				p.InsufficientHistory = true
			default:
				if msg := firstBad(bad, i-size+1, i); msg != "" {
					p.Error = msg
					break
				}
				windows = append(windows, window.Window{
					PatientID: seq.PatientID,
					Hour:      row.Hour,
					Vectors:   vectors[i-size+1 : i+1 : i+1],
				})
				targets = append(targets, len(preds))
			}
			if msg, ok := bad[i]; ok && p.Error == "" {
				p.Error = msg
			}
			preds = append(preds, p)
		}
	}

	for start := 0; start < len(windows); start += predictChunk {
		end := min(start+predictChunk, len(windows))
		probs, err := s.ScoreBatch(ctx, windows[start:end])
		if err != nil {
			return nil, Summary{}, err
		}
		for k, p := range probs {
			idx := targets[start+k]
			prob := p
			decision := risk.Decide(p, s.cfg.Threshold)
			preds[idx].Probability = &prob
			preds[idx].Decision = &decision
		}
	}

	summary := summarize(preds)
	s.logger.Info("offline prediction complete",
		zap.Int("rows", summary.Rows),
		zap.Int("scored", summary.Scored),
		zap.Int("insufficient_history", summary.Insufficient),
		zap.Int("rejected", summary.Rejected),
		zap.Int("positives", summary.Positives),
		zap.Float64("mean", summary.Mean),
		zap.Float64("median", summary.Median),
	)
	return preds, summary, nil
}

func firstBad(bad map[int]string, from, to int) string {
	for i := from; i <= to; i++ {
		if msg, ok := bad[i]; ok {
			return msg
		}
	}
	return ""
}

func summarize(preds []Prediction) Summary {
	sum := Summary{Rows: len(preds)}
	var probs []float64
	for _, p := range preds {
		switch {
		case p.InsufficientHistory:
			sum.Insufficient++
		case p.Probability == nil:
			sum.Rejected++
		default:
			probs = append(probs, *p.Probability)
			if *p.Decision {
				sum.Positives++
			}
		}
	}
	sum.Scored = len(probs)
	if len(probs) == 0 {
		return sum
	}

	sort.Float64s(probs)
	sum.Mean = stat.Mean(probs, nil)
	sum.Min = probs[0]
	sum.Max = probs[len(probs)-1]
	sum.Q25 = stat.Quantile(0.25, stat.LinInterp, probs, nil)
	sum.Median = stat.Quantile(0.5, stat.LinInterp, probs, nil)
	sum.Q75 = stat.Quantile(0.75, stat.LinInterp, probs, nil)
	return sum
}

// WritePredictions writes predictions as CSV with empty cells for rows that
// were not scored.
func WritePredictions(w io.Writer, preds []Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Patient_ID", "ICULOS", "proba", "yhat", "insufficient_history", "error"}); err != nil {
		return err
	}
	for _, p := range preds {
		proba, yhat := "", ""
		if p.Probability != nil {
			proba = strconv.FormatFloat(*p.Probability, 'f', -1, 64)
			yhat = "0"
			if *p.Decision {
				yhat = "1"
			}
		}
		row := []string{p.PatientID, strconv.Itoa(p.Hour), proba, yhat, strconv.FormatBool(p.InsufficientHistory), p.Error}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
