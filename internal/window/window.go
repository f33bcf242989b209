// Package window cuts per-patient feature sequences into fixed-length
// windows. Batch mode never pads; incremental mode always does.
package window

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sepsisguard/platform/internal/transform"
	"golang.org/x/sync/errgroup"
)

// Window is window-size consecutive vectors ending at Hour.
type Window struct {
	PatientID string
	// Hour is the reference hour, the last hour in the window
	Hour    int
	Vectors []transform.FeatureVector
	// Label is the label at the reference hour, batch mode only
	Label  *int
	Padded int
}

// Flatten returns the vectors concatenated in chronological order.
func (w Window) Flatten() []float64 {
	if len(w.Vectors) == 0 {
		return nil
	}
	out := make([]float64, 0, len(w.Vectors)*len(w.Vectors[0]))
	for _, v := range w.Vectors {
		out = append(out, v...)
	}
	return out
}

// Sequence is one patient's transformed history in ascending hour order.
type Sequence struct {
	PatientID string
	Hours     []int
	Vectors   []transform.FeatureVector
	Labels    []int
}

// Builder holds the window geometry.
type Builder struct {
	Size   int
	Stride int
}

// NewBuilder validates the geometry.
func NewBuilder(size, stride int) (Builder, error) {
	if size < 1 {
		return Builder{}, fmt.Errorf("window size must be at least 1, got %d", size)
	}
	if stride < 1 {
		return Builder{}, fmt.Errorf("stride must be at least 1, got %d", stride)
	}
	return Builder{Size: size, Stride: stride}, nil
}

// Count is the number of batch windows a sequence of length n yields.
func (b Builder) Count(n int) int {
	if n < b.Size {
		return 0
	}
	return (n-b.Size)/b.Stride + 1
}

// Slide builds the batch windows of one patient. Sequences shorter than the
// window size yield none.
func (b Builder) Slide(seq Sequence) ([]Window, error) {
	n := len(seq.Vectors)
	if len(seq.Labels) != n {
		return nil, fmt.Errorf("patient %s: %d labels for %d vectors", seq.PatientID, len(seq.Labels), n)
	}
	if len(seq.Hours) != n {
		return nil, fmt.Errorf("patient %s: %d hours for %d vectors", seq.PatientID, len(seq.Hours), n)
	}

	out := make([]Window, 0, b.Count(n))
	for start := 0; start+b.Size <= n; start += b.Stride {
		end := start + b.Size
		label := seq.Labels[end-1]
		out = append(out, Window{
			PatientID: seq.PatientID,
			Hour:      seq.Hours[end-1],
			Vectors:   seq.Vectors[start:end:end],
			Label:     &label,
		})
	}
	return out, nil
}

// Batch slides every sequence in parallel and concatenates the results in
// input order, so the output is identical to a sequential run.
func (b Builder) Batch(ctx context.Context, seqs []Sequence) ([]Window, error) {
	if b.Size < 1 || b.Stride < 1 {
		return nil, fmt.Errorf("invalid window geometry %d/%d", b.Size, b.Stride)
	}

	perPatient := make([][]Window, len(seqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range seqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			windows, err := b.Slide(seqs[i])
			if err != nil {
				return err
			}
			perPatient[i] = windows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, w := range perPatient {
		total += len(w)
	}
	out := make([]Window, 0, total)
	for _, w := range perPatient {
		out = append(out, w...)
	}
	return out, nil
}

// Incremental builds the serving window from a patient's history, the
// current hour's vector last. Short histories are left-padded with the
// sentinel vector; long ones keep the most recent Size vectors.
func (b Builder) Incremental(history []transform.FeatureVector, sentinel transform.FeatureVector) Window {
	vectors := make([]transform.FeatureVector, 0, b.Size)

	padded := 0
	if len(history) < b.Size {
		padded = b.Size - len(history)
		for i := 0; i < padded; i++ {
			vectors = append(vectors, sentinel)
		}
		vectors = append(vectors, history...)
	} else {
		vectors = append(vectors, history[len(history)-b.Size:]...)
	}

	return Window{Vectors: vectors, Padded: padded}
}
