package dataset

import (
	"sort"
	"strconv"

	"github.com/sepsisguard/platform/internal/record"
	"github.com/sepsisguard/platform/internal/vitals"
)

// ImpossibleBounds are raw sensor artifact limits. They are looser than the
// submission bounds in package vitals.
var ImpossibleBounds = []vitals.Bound{
	{Field: "HR", Min: 0, Max: 300},
	{Field: "MAP", Min: 0, Max: 250},
	{Field: "Temp", Min: 25, Max: 45},
	{Field: "O2Sat", Min: 0, Max: 100},
}

// CleanStats summarises what Clean removed.
type CleanStats struct {
	Duplicates int
	Nulled     map[string]int
}

type key struct {
	patient string
	hour    int
}

// Clean drops repeated (patient, hour) rows keeping the first, nulls out
// impossible readings and sorts by (patient, hour). The input is not modified.
func Clean(d *Dataset) (*Dataset, CleanStats) {
	stats := CleanStats{Nulled: make(map[string]int)}

	seen := make(map[key]bool, len(d.Rows))
	rows := make([]record.Record, 0, len(d.Rows))
	for _, row := range d.Rows {
		k := key{row.PatientID, row.Hour}
		if seen[k] {
			stats.Duplicates++
			continue
		}
		seen[k] = true

		row = row.Clone()
		for _, b := range ImpossibleBounds {
			v, ok := row.Fields[b.Field].Float()
			if ok && !b.Contains(v) {
				delete(row.Fields, b.Field)
				stats.Nulled[b.Field]++
			}
		}
		rows = append(rows, row)
	}

	SortRows(rows)

	columns := make([]string, len(d.Columns))
	copy(columns, d.Columns)
	return &Dataset{Columns: columns, Rows: rows}, stats
}

// SortRows orders rows by (patient, hour), stable for equal keys.
func SortRows(rows []record.Record) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].PatientID != rows[j].PatientID {
			return LessPatient(rows[i].PatientID, rows[j].PatientID)
		}
		return rows[i].Hour < rows[j].Hour
	})
}

// LessPatient is a total order on patient IDs: integer IDs first in
// numeric order, then every other ID lexically. Integers that compare equal
// ("7", "007") fall back to lexical order.
func LessPatient(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if ai != bi {
			return ai < bi
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
