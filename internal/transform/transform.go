// Package transform implements the fit-once, replay-many feature transform:
// median imputation and standardization of numerical columns followed by
// one-hot encoding of categorical columns.
package transform

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sepsisguard/platform/internal/record"
	apperrors "github.com/sepsisguard/platform/internal/shared/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FeatureVector is the fixed-width numeric form of one record.
type FeatureVector []float64

type imputerState struct {
	Lineage    uuid.UUID `json:"lineage"`
	Strategy   string    `json:"strategy"`
	Statistics []float64 `json:"statistics"`

	// Empty lists columns with no observed value at fit time
	Empty []string `json:"empty,omitempty"`
}

type scalerState struct {
	Lineage  uuid.UUID `json:"lineage"`
	Mean     []float64 `json:"mean"`
	Var      []float64 `json:"var"`
	Scale    []float64 `json:"scale"`
	NSamples int       `json:"n_samples"`
}

type encoderState struct {
	Lineage    uuid.UUID  `json:"lineage"`
	Categories [][]string `json:"categories"`

	// Missing marks columns whose last category is the missing-value slot
	Missing []bool `json:"missing,omitempty"`
}

// MissingCategory labels the one-hot slot learned for absent categorical
// values. It sorts after every observed category.
const MissingCategory = "nan"

// known returns the observed categories of column i, without the missing slot.
func (e *encoderState) known(i int) []string {
	cats := e.Categories[i]
	if e.hasMissing(i) {
		return cats[:len(cats)-1]
	}
	return cats
}

func (e *encoderState) hasMissing(i int) bool {
	return i < len(e.Missing) && e.Missing[i]
}

// Transform is a fitted transform. It is immutable after Fit or Load and
// safe for concurrent use.
type Transform struct {
	lineage     uuid.UUID
	fittedAt    time.Time
	numerical   []string
	categorical []string
	imputer     *imputerState
	scaler      *scalerState
	encoder     *encoderState
}

// RecordError reports a row rejected by ApplyAll.
type RecordError struct {
	Index     int
	PatientID string
	Hour      int
	Err       error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("patient %s hour %d: %v", e.PatientID, e.Hour, e.Err)
}

// Fit learns imputer, scaler and encoder state from rows. The column lists
// fix the vector layout for the lifetime of the lineage.
func Fit(rows []record.Record, numerical, categorical []string) (*Transform, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot fit transform on an empty dataset")
	}
	if len(numerical) == 0 && len(categorical) == 0 {
		return nil, fmt.Errorf("cannot fit transform without feature columns")
	}

	lineage := uuid.New()
	t := &Transform{
		lineage:     lineage,
		fittedAt:    time.Now().UTC(),
		numerical:   append([]string(nil), numerical...),
		categorical: append([]string(nil), categorical...),
	}

	columns := make([][]float64, len(numerical))
	for i, col := range numerical {
		observed := make([]float64, 0, len(rows))
		for _, row := range rows {
			v := row.Get(col)
			if v.IsMissing() {
				continue
			}
			f, ok := v.Float()
			if !ok {
				return nil, apperrors.Transform(col, fmt.Sprintf("%s value %q is not numeric", col, v.String()))
			}
			observed = append(observed, f)
		}
		columns[i] = observed
	}

	t.imputer = &imputerState{Lineage: lineage, Strategy: "median", Statistics: make([]float64, len(numerical))}
	for i, observed := range columns {
		if len(observed) == 0 {
			t.imputer.Empty = append(t.imputer.Empty, numerical[i])
			continue
		}
		t.imputer.Statistics[i] = median(observed)
	}

	t.scaler = &scalerState{
		Lineage:  lineage,
		Mean:     make([]float64, len(numerical)),
		Var:      make([]float64, len(numerical)),
		Scale:    make([]float64, len(numerical)),
		NSamples: len(rows),
	}
	imputed := make([]float64, len(rows))
	for i, col := range numerical {
		for r, row := range rows {
			imputed[r] = t.imputer.Statistics[i]
			if f, ok := row.Get(col).Float(); ok {
				imputed[r] = f
			}
		}
		mean, variance := stat.PopMeanVariance(imputed, nil)
		t.scaler.Mean[i] = mean
		t.scaler.Var[i] = variance
		t.scaler.Scale[i] = scaleFor(variance)
	}

	if len(categorical) > 0 {
		t.encoder = &encoderState{
			Lineage:    lineage,
			Categories: make([][]string, len(categorical)),
			Missing:    make([]bool, len(categorical)),
		}
		for i, col := range categorical {
			seen := make(map[string]bool)
			missing := false
			for _, row := range rows {
				if v := row.Get(col); v.IsMissing() {
					missing = true
				} else {
					seen[v.String()] = true
				}
			}
			cats := make([]string, 0, len(seen)+1)
			for c := range seen {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			if missing {
				cats = append(cats, MissingCategory)
			}
			t.encoder.Categories[i] = cats
			t.encoder.Missing[i] = missing
		}
	}

	return t, nil
}

// median averages the two middle values for even counts.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

const epsilon = 2.220446049250313e-16

// scaleFor treats a near-zero standard deviation as unit scale so constant
// columns map to zero.
func scaleFor(variance float64) float64 {
	scale := math.Sqrt(variance)
	if scale < 10*epsilon {
		return 1
	}
	return scale
}

func (t *Transform) fitted() bool {
	return t != nil && t.imputer != nil && t.scaler != nil
}

// Apply maps one record to its feature vector. Fields absent from the record
// are treated as missing and extra fields are ignored.
func (t *Transform) Apply(rec record.Record) (FeatureVector, error) {
	if !t.fitted() {
		return nil, apperrors.NotFitted("Apply")
	}

	n := len(t.numerical)
	out := make(FeatureVector, t.Width())

	num := out[:n]
	for i, col := range t.numerical {
		v := rec.Get(col)
		if v.IsMissing() {
			num[i] = t.imputer.Statistics[i]
			continue
		}
		f, ok := v.Float()
		if !ok {
			return nil, apperrors.Transform(col, fmt.Sprintf("%s value %q is not numeric", col, v.String()))
		}
		num[i] = f
	}
	floats.Sub(num, t.scaler.Mean)
	floats.Div(num, t.scaler.Scale)

	if t.encoder != nil {
		offset := n
		for i, col := range t.categorical {
			known := t.encoder.known(i)
			v := rec.Get(col)
			switch {
			case v.IsMissing():
				// all zeros unless a missing value was seen at fit time
				if t.encoder.hasMissing(i) {
					out[offset+len(known)] = 1
				}
			default:
				// unknown categories encode as all zeros
				key := v.String()
				if j := sort.SearchStrings(known, key); j < len(known) && known[j] == key {
					out[offset+j] = 1
				}
			}
			offset += len(t.encoder.Categories[i])
		}
	}

	return out, nil
}

// ApplyAll transforms rows independently. The result is aligned with rows;
// rejected rows have a nil vector and a matching RecordError.
func (t *Transform) ApplyAll(rows []record.Record) ([]FeatureVector, []RecordError, error) {
	if !t.fitted() {
		return nil, nil, apperrors.NotFitted("ApplyAll")
	}

	vectors := make([]FeatureVector, len(rows))
	var rejected []RecordError
	for i, row := range rows {
		v, err := t.Apply(row)
		if err != nil {
			rejected = append(rejected, RecordError{Index: i, PatientID: row.PatientID, Hour: row.Hour, Err: err})
			continue
		}
		vectors[i] = v
	}
	return vectors, rejected, nil
}

// Width is the length of every vector this transform produces.
func (t *Transform) Width() int {
	w := len(t.numerical)
	if t.encoder != nil {
		for _, cats := range t.encoder.Categories {
			w += len(cats)
		}
	}
	return w
}

// Lineage identifies the fit run. Vectors from different lineages are not
// comparable.
func (t *Transform) Lineage() uuid.UUID { return t.lineage }

func (t *Transform) FittedAt() time.Time { return t.fittedAt }

// Numerical returns the fit-time numerical column order.
func (t *Transform) Numerical() []string { return append([]string(nil), t.numerical...) }

// Categorical returns the fit-time categorical column order.
func (t *Transform) Categorical() []string { return append([]string(nil), t.categorical...) }

// EmptyColumns lists numerical columns that had no observed value at fit
// time. They are imputed with zero.
func (t *Transform) EmptyColumns() []string {
	if t.imputer == nil {
		return nil
	}
	return append([]string(nil), t.imputer.Empty...)
}

// FeatureNames names each vector position: numerical columns, then
// column_category for every one-hot output.
func (t *Transform) FeatureNames() []string {
	names := make([]string, 0, t.Width())
	names = append(names, t.numerical...)
	if t.encoder != nil {
		for i, col := range t.categorical {
			for _, c := range t.encoder.Categories[i] {
				names = append(names, col+"_"+c)
			}
		}
	}
	return names
}

// VerifyColumns fails with a stale artifact error when the live column
// partition differs from the one this transform was fitted on.
func (t *Transform) VerifyColumns(numerical, categorical []string) error {
	if !t.fitted() {
		return apperrors.NotFitted("VerifyColumns")
	}
	if diff := setDiff(t.numerical, numerical); diff != "" {
		return apperrors.StaleArtifact("numerical columns differ from artifact: " + diff)
	}
	if diff := setDiff(t.categorical, categorical); diff != "" {
		return apperrors.StaleArtifact("categorical columns differ from artifact: " + diff)
	}
	return nil
}

func setDiff(fitted, live []string) string {
	want := make(map[string]bool, len(fitted))
	for _, c := range fitted {
		want[c] = true
	}
	have := make(map[string]bool, len(live))
	for _, c := range live {
		have[c] = true
	}

	var missing, extra []string
	for _, c := range fitted {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	for _, c := range live {
		if !want[c] {
			extra = append(extra, c)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return ""
	}
	return fmt.Sprintf("missing %v, unexpected %v", missing, extra)
}
