// Command sepsisctl runs the offline side of the sepsis risk pipeline:
// dataset preparation, bulk prediction and held-out evaluation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sepsisguard/platform/internal/adapters/his/heliant"
	"github.com/sepsisguard/platform/internal/dataset"
	"github.com/sepsisguard/platform/internal/evaluation"
	"github.com/sepsisguard/platform/internal/history"
	"github.com/sepsisguard/platform/internal/pipeline"
	"github.com/sepsisguard/platform/internal/scoring"
	"github.com/sepsisguard/platform/internal/shared/config"
	"github.com/sepsisguard/platform/internal/shared/logging"
	"github.com/sepsisguard/platform/internal/transform"
	"go.uber.org/zap"
)

// evalChunk bounds the windows sent to the model per request.
const evalChunk = 256

const usage = `usage: sepsisctl <command> [flags]

commands:
  prepare    clean, transform and window a dataset into train/val/test splits
  predict    score every row of a CSV dataset
  evaluate   score a persisted split and report ROC-AUC, PR-AUC and confusion metrics
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	switch os.Args[1] {
	case "prepare":
		err = prepare(ctx, cfg, args, logger)
	case "predict":
		err = predict(ctx, cfg, args, logger)
	case "evaluate":
		err = evaluate(ctx, cfg, args, logger)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// pipelineFlags registers overrides for the shared pipeline constants.
func pipelineFlags(fs *flag.FlagSet, p *config.PipelineConfig) {
	fs.IntVar(&p.WindowSize, "window", p.WindowSize, "hours per window")
	fs.IntVar(&p.Stride, "stride", p.Stride, "hours between window starts")
	fs.Float64Var(&p.DecisionThreshold, "threshold", p.DecisionThreshold, "decision threshold")
	fs.Float64Var(&p.TestFraction, "test-fraction", p.TestFraction, "share of windows held out for test")
	fs.Float64Var(&p.ValFraction, "val-fraction", p.ValFraction, "share of the remainder held out for validation")
	fs.Uint64Var(&p.Seed, "seed", p.Seed, "split seed")
}

func prepare(ctx context.Context, cfg *config.Config, args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("prepare", flag.ContinueOnError)
	input := fs.String("input", "", "wide-format CSV dataset")
	fromHIS := fs.Bool("his", false, "read stays from the Heliant HIS instead of a CSV")
	from := fs.String("from", "", "first admission date for -his (YYYY-MM-DD)")
	to := fs.String("to", "", "admission date bound for -his, exclusive (YYYY-MM-DD)")
	out := fs.String("out", "data/processed", "output directory")
	artifact := fs.String("artifact", "", "replay an existing transform artifact instead of fitting")
	p := cfg.Pipeline
	pipelineFlags(fs, &p)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		d   *dataset.Dataset
		err error
	)
	switch {
	case *fromHIS:
		d, err = fetchHIS(ctx, cfg.HIS, *from, *to, logger)
	case *input != "":
		d, err = dataset.ReadCSVFile(*input)
	default:
		return fmt.Errorf("prepare needs -input or -his")
	}
	if err != nil {
		return err
	}

	opts := pipeline.Options{Pipeline: p}
	if *artifact != "" {
		t, err := transform.Load(*artifact)
		if err != nil {
			return err
		}
		opts.Artifact = t
	}

	result, err := pipeline.Run(ctx, d, opts, logger)
	if err != nil {
		return err
	}
	m, err := pipeline.Persist(ctx, *out, result, p)
	if err != nil {
		return err
	}

	logger.Info("dataset prepared",
		zap.String("out", *out),
		zap.String("lineage", m.Lineage.String()),
		zap.Int("windows", m.Report.Windows),
		zap.Int("rejected", len(result.Report.Rejected)),
	)
	return printJSON(os.Stdout, m)
}

func fetchHIS(ctx context.Context, cfg config.HISConfig, from, to string, logger *zap.Logger) (*dataset.Dataset, error) {
	start, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return nil, fmt.Errorf("invalid -from: %w", err)
	}
	end, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return nil, fmt.Errorf("invalid -to: %w", err)
	}

	adapter := heliant.New(cfg, nil)
	if err := adapter.Start(ctx); err != nil {
		return nil, err
	}
	defer adapter.Stop()

	d, err := adapter.FetchDataset(ctx, start, end)
	if err != nil {
		return nil, err
	}
	logger.Info("HIS stays loaded",
		zap.String("source", adapter.SourceSystem()),
		zap.String("institution", adapter.SourceInstitution()),
		zap.Int("rows", len(d.Rows)),
	)
	return d, nil
}

func predict(ctx context.Context, cfg *config.Config, args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	input := fs.String("input", "", "wide-format CSV dataset")
	artifact := fs.String("artifact", cfg.Scoring.ArtifactPath, "transform artifact")
	out := fs.String("out", "-", "predictions CSV, - for stdout")
	p := cfg.Pipeline
	pipelineFlags(fs, &p)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("predict needs -input")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	service, err := offlineService(ctx, *artifact, p, cfg.Scoring, logger)
	if err != nil {
		return err
	}
	d, err := dataset.ReadCSVFile(*input)
	if err != nil {
		return err
	}

	preds, summary, err := service.PredictDataset(ctx, d)
	if err != nil {
		return err
	}

	w := io.Writer(os.Stdout)
	if *out != "-" {
		if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
			return err
		}
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *out, err)
		}
		defer f.Close()
		w = f
	}
	if err := scoring.WritePredictions(w, preds); err != nil {
		return err
	}

	logger.Info("predictions written",
		zap.String("out", *out),
		zap.Int("rows", summary.Rows),
		zap.Int("scored", summary.Scored),
		zap.Int("insufficient_history", summary.Insufficient),
		zap.Int("rejected", summary.Rejected),
		zap.Int("positives", summary.Positives),
		zap.Float64("median", summary.Median),
	)
	return nil
}

func evaluate(ctx context.Context, cfg *config.Config, args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	dir := fs.String("dir", "data/processed", "directory written by prepare")
	name := fs.String("split", "test", "split to evaluate")
	threshold := fs.Float64("threshold", cfg.Pipeline.DecisionThreshold, "decision threshold")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := pipeline.ReadManifest(*dir)
	if err != nil {
		return err
	}
	windows, err := pipeline.LoadSplit(*dir, m, *name)
	if err != nil {
		return err
	}
	if len(windows) == 0 {
		return fmt.Errorf("split %s is empty", *name)
	}

	p := cfg.Pipeline
	p.WindowSize = m.WindowSize
	p.DecisionThreshold = *threshold
	service, err := offlineService(ctx, filepath.Join(*dir, pipeline.TransformFile), p, cfg.Scoring, logger)
	if err != nil {
		return err
	}
	if service.Transform().Lineage() != m.Lineage {
		return fmt.Errorf("transform lineage %s does not match manifest %s", service.Transform().Lineage(), m.Lineage)
	}

	probs := make([]float64, 0, len(windows))
	for start := 0; start < len(windows); start += evalChunk {
		end := min(start+evalChunk, len(windows))
		batch, err := service.ScoreBatch(ctx, windows[start:end])
		if err != nil {
			return err
		}
		probs = append(probs, batch...)
	}
	labels := make([]int, len(windows))
	for i, w := range windows {
		if w.Label == nil {
			return fmt.Errorf("window %d of %s has no label", i, *name)
		}
		labels[i] = *w.Label
	}

	report, err := evaluation.Evaluate(labels, probs, *threshold)
	if err != nil {
		return err
	}
	logger.Info("split evaluated",
		zap.String("split", *name),
		zap.Int("windows", report.N),
		zap.Float64("roc_auc", report.ROCAUC),
		zap.Float64("pr_auc", report.PRAUC),
	)
	return printJSON(os.Stdout, report)
}

// offlineService builds a scoring service without persistent history.
func offlineService(ctx context.Context, artifact string, p config.PipelineConfig, s config.ScoringConfig, logger *zap.Logger) (*scoring.Service, error) {
	t, err := transform.Load(artifact)
	if err != nil {
		return nil, err
	}
	model := scoring.NewHTTPScorer(s)
	if err := model.DiscoverWidth(ctx); err != nil {
		return nil, err
	}
	return scoring.NewService(t, model, history.NewMemoryStore(), nil,
		scoring.ConfigFrom(p, s), logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
