package dataset

import (
	apperrors "github.com/sepsisguard/platform/internal/shared/errors"
)

// Columns is the feature partition chosen at fit time. Order is the header
// order and is replayed at transform time.
type Columns struct {
	Numerical   []string `json:"numerical"`
	Categorical []string `json:"categorical"`
}

// Excluded reports whether a column is structural.
func Excluded(column string) bool {
	switch column {
	case ColumnPatient, ColumnHour, ColumnLabel:
		return true
	}
	return false
}

// Classify partitions the non-structural columns. A column is categorical
// when any present value in it is non-numeric. Fails with a schema error if
// the patient, hour or label column is absent.
func Classify(d *Dataset) (Columns, error) {
	var missing []string
	for _, required := range []string{ColumnPatient, ColumnHour, ColumnLabel} {
		if !d.HasColumn(required) {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return Columns{}, apperrors.Schema(missing)
	}

	textual := make(map[string]bool)
	for _, row := range d.Rows {
		for name, v := range row.Fields {
			if v.IsText() {
				textual[name] = true
			}
		}
	}

	var cols Columns
	for _, c := range d.Columns {
		if Excluded(c) {
			continue
		}
		if textual[c] {
			cols.Categorical = append(cols.Categorical, c)
		} else {
			cols.Numerical = append(cols.Numerical, c)
		}
	}
	return cols, nil
}
