package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sepsisguard/platform/internal/shared/config"
	"github.com/sepsisguard/platform/internal/transform"
	"github.com/sepsisguard/platform/internal/window"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// File names inside an output directory.
const (
	ManifestFile  = "manifest.json"
	TransformFile = "transform.json"
)

// SplitNames in write order.
var SplitNames = []string{"train", "val", "test"}

// Manifest describes a persisted run.
type Manifest struct {
	Lineage      uuid.UUID             `json:"lineage"`
	CreatedAt    time.Time             `json:"created_at"`
	WindowSize   int                   `json:"window_size"`
	Stride       int                   `json:"stride"`
	FeatureWidth int                   `json:"feature_width"`
	FeatureNames []string              `json:"feature_names"`
	Seed         uint64                `json:"seed"`
	TestFraction float64               `json:"test_fraction"`
	ValFraction  float64               `json:"val_fraction"`
	Report       Report                `json:"report"`
	Splits       map[string]SplitShape `json:"splits"`
}

// SplitShape is the on-disk shape of one split. Empty splits have no files.
type SplitShape struct {
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
	X    string `json:"x,omitempty"`
	Y    string `json:"y,omitempty"`
}

// Persist writes the transform, one X/y pair per split and the manifest.
// X rows are windows flattened hour by hour; y holds the window labels.
func Persist(ctx context.Context, dir string, out *Output, cfg config.PipelineConfig) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := out.Transform.Save(filepath.Join(dir, TransformFile)); err != nil {
		return nil, err
	}

	width := out.Transform.Width()
	sets := map[string][]window.Window{
		"train": out.Split.Train,
		"val":   out.Split.Val,
		"test":  out.Split.Test,
	}
	shapes := make(map[string]SplitShape, len(sets))
	for _, name := range SplitNames {
		shapes[name] = SplitShape{Rows: len(sets[name]), Cols: cfg.WindowSize * width}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range SplitNames {
		windows := sets[name]
		if len(windows) == 0 {
			continue
		}
		shape := shapes[name]
		shape.X = "X_" + name + ".bin"
		shape.Y = "y_" + name + ".bin"
		shapes[name] = shape

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			x, y, err := Tensors(windows, shape.Cols)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if err := writeBinary(filepath.Join(dir, shape.X), x.MarshalBinaryTo); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return writeBinary(filepath.Join(dir, shape.Y), y.MarshalBinaryTo)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &Manifest{
		Lineage:      out.Transform.Lineage(),
		CreatedAt:    time.Now().UTC(),
		WindowSize:   cfg.WindowSize,
		Stride:       cfg.Stride,
		FeatureWidth: width,
		FeatureNames: out.Transform.FeatureNames(),
		Seed:         cfg.Seed,
		TestFraction: cfg.TestFraction,
		ValFraction:  cfg.ValFraction,
		Report:       out.Report,
		Splits:       shapes,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return m, nil
}

// Tensors flattens windows into a design matrix and label vector.
func Tensors(windows []window.Window, cols int) (*mat.Dense, *mat.VecDense, error) {
	if len(windows) == 0 {
		return nil, nil, fmt.Errorf("no windows")
	}
	x := mat.NewDense(len(windows), cols, nil)
	y := mat.NewVecDense(len(windows), nil)
	for i, w := range windows {
		row := w.Flatten()
		if len(row) != cols {
			return nil, nil, fmt.Errorf("window %d flattens to %d values, expected %d", i, len(row), cols)
		}
		x.SetRow(i, row)
		if w.Label != nil {
			y.SetVec(i, float64(*w.Label))
		}
	}
	return x, y, nil
}

func writeBinary(path string, marshal func(w io.Writer) (int, error)) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	bw := bufio.NewWriter(f)
	if _, err := marshal(bw); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// ReadManifest loads the manifest of a persisted run.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// LoadSplit reads one persisted split back as windows with labels.
func LoadSplit(dir string, m *Manifest, name string) ([]window.Window, error) {
	shape, ok := m.Splits[name]
	if !ok {
		return nil, fmt.Errorf("unknown split %q", name)
	}
	if shape.Rows == 0 {
		return nil, nil
	}

	var x mat.Dense
	if err := readBinary(filepath.Join(dir, shape.X), x.UnmarshalBinaryFrom); err != nil {
		return nil, err
	}
	var y mat.VecDense
	if err := readBinary(filepath.Join(dir, shape.Y), y.UnmarshalBinaryFrom); err != nil {
		return nil, err
	}

	rows, cols := x.Dims()
	if rows != shape.Rows || cols != shape.Cols || y.Len() != rows {
		return nil, fmt.Errorf("split %s has shape %dx%d with %d labels, manifest says %dx%d", name, rows, cols, y.Len(), shape.Rows, shape.Cols)
	}
	if m.WindowSize < 1 || cols != m.WindowSize*m.FeatureWidth {
		return nil, fmt.Errorf("split %s: %d columns do not match window size %d and width %d", name, cols, m.WindowSize, m.FeatureWidth)
	}

	windows := make([]window.Window, rows)
	for i := range windows {
		flat := x.RawRowView(i)
		vectors := make([]transform.FeatureVector, m.WindowSize)
		for h := range vectors {
			v := make(transform.FeatureVector, m.FeatureWidth)
			copy(v, flat[h*m.FeatureWidth:(h+1)*m.FeatureWidth])
			vectors[h] = v
		}
		label := int(y.AtVec(i))
		windows[i] = window.Window{Vectors: vectors, Label: &label}
	}
	return windows, nil
}

func readBinary(path string, unmarshal func(r io.Reader) (int, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := unmarshal(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
