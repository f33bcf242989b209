// Package dataset holds multi-patient tabular data: CSV ingest, column
// classification and the cleaning stage that runs before fitting.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sepsisguard/platform/internal/record"
)

// Structural columns. They never become model features.
const (
	ColumnPatient = "Patient_ID"
	ColumnHour    = "ICULOS"
	ColumnLabel   = "SepsisLabel"
)

// Dataset is a table of records in file order.
type Dataset struct {
	// Columns is the header in declared order, structural columns included
	Columns []string
	Rows    []record.Record
}

// New builds a dataset from already decoded rows.
func New(columns []string, rows []record.Record) *Dataset {
	return &Dataset{Columns: columns, Rows: rows}
}

// HasColumn reports whether the header declares name.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Sequence is one patient's rows in dataset order.
type Sequence struct {
	PatientID string
	Rows      []record.Record
}

// Sequences groups rows by patient. Patients appear in order of first
// occurrence, rows keep their relative order.
func (d *Dataset) Sequences() []Sequence {
	index := make(map[string]int)
	var out []Sequence
	for _, row := range d.Rows {
		i, ok := index[row.PatientID]
		if !ok {
			i = len(out)
			index[row.PatientID] = i
			out = append(out, Sequence{PatientID: row.PatientID})
		}
		out[i].Rows = append(out[i].Rows, row)
	}
	return out
}

// ReadCSVFile opens path and decodes it with ReadCSV.
func ReadCSVFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV decodes a header-first CSV. The patient and hour columns are
// required. Empty and NaN-like cells become missing values.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("dataset is empty")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	ds := &Dataset{Columns: columns}
	patientIdx, hourIdx, labelIdx := -1, -1, -1
	for i, c := range columns {
		switch c {
		case ColumnPatient:
			patientIdx = i
		case ColumnHour:
			hourIdx = i
		case ColumnLabel:
			labelIdx = i
		}
	}
	if patientIdx < 0 || hourIdx < 0 {
		var missing []string
		if patientIdx < 0 {
			missing = append(missing, ColumnPatient)
		}
		if hourIdx < 0 {
			missing = append(missing, ColumnHour)
		}
		return nil, fmt.Errorf("dataset is missing required columns %v", missing)
	}

	line := 1
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rec := record.Record{Fields: make(map[string]record.Value, len(columns))}
		for i, cell := range cells {
			switch i {
			case patientIdx:
				rec.PatientID = strings.TrimSpace(cell)
			case hourIdx:
				hour, err := parseHour(cell)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				rec.Hour = hour
			case labelIdx:
				label, ok := parseLabel(cell)
				if ok {
					rec.Label = &label
				}
			default:
				if v := record.Parse(cell); !v.IsMissing() {
					rec.Fields[columns[i]] = v
				}
			}
		}
		if rec.PatientID == "" {
			return nil, fmt.Errorf("line %d: empty %s", line, ColumnPatient)
		}
		ds.Rows = append(ds.Rows, rec)
	}

	return ds, nil
}

func parseHour(cell string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%s %q is not an integer hour", ColumnHour, cell)
	}
	return int(f), nil
}

func parseLabel(cell string) (int, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, false
	}
	switch f {
	case 0:
		return 0, true
	case 1:
		return 1, true
	}
	return 0, false
}
