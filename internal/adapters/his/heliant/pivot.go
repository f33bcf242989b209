package heliant

import (
	"sort"
	"time"

	"github.com/sepsisguard/platform/internal/dataset"
	"github.com/sepsisguard/platform/internal/record"
	"github.com/sepsisguard/platform/internal/vitals"
)

// LabelLead is how many hours before clinical onset rows are labelled
// positive, following the PhysioNet 2019 convention.
const LabelLead = 6

// Observation is one charted value.
type Observation struct {
	StayID     string
	AdmittedAt time.Time
	ObservedAt time.Time
	Code       string
	Numeric    *float64
	Text       string
}

// DefaultCodes maps LOINC codes charted by Heliant to dataset fields.
var DefaultCodes = map[string]string{
	"8867-4":  "HR",
	"8310-5":  "Temp",
	"8480-6":  "SBP",
	"8462-4":  "DBP",
	"8478-0":  "MAP",
	"9279-1":  "Resp",
	"59408-5": "O2Sat",
	"19889-5": "EtCO2",
	"6690-2":  "WBC",
	"777-3":   "Platelets",
	"718-7":   "Hgb",
	"4544-3":  "Hct",
	"2160-0":  "Creatinine",
	"3094-0":  "BUN",
	"2345-7":  "Glucose",
	"2524-7":  "Lactate",
	"1975-2":  "Bilirubin_total",
	"11558-4": "pH",
	"6301-6":  "INR",
	"33959-8": "PCT",
	"1988-5":  "CRP",
	"2951-2":  "Sodium",
	"2823-3":  "Potassium",
	"1751-7":  "Albumin",
	"9187-6":  "Urine_output",
}

// HourIndex is the 1-based ICU hour an observation falls into.
func HourIndex(admitted, observed time.Time) int {
	d := observed.Sub(admitted)
	if d < 0 {
		return 1
	}
	return int(d/time.Hour) + 1
}

// Label is 1 from LabelLead hours before onset onwards.
func Label(hour, onsetHour int, hasOnset bool) int {
	if hasOnset && hour >= onsetHour-LabelLead {
		return 1
	}
	return 0
}

// Pivot turns long-format observations into one row per (stay, hour). The
// latest value in an hour wins. Codes not in codes are kept only when they
// are already a known field name. Columns follow the bounds table order,
// then any other fields alphabetically.
func Pivot(obs []Observation, onsets map[string]time.Time, codes map[string]string) *dataset.Dataset {
	type key struct {
		stay string
		hour int
	}
	type latest struct {
		at    time.Time
		value record.Value
	}

	cells := make(map[key]map[string]latest)
	admitted := make(map[string]time.Time)
	var order []key
	present := make(map[string]bool)

	for _, o := range obs {
		field, ok := codes[o.Code]
		if !ok {
			if _, known := vitals.Lookup(o.Code); !known {
				continue
			}
			field = o.Code
		}

		v := record.Parse(o.Text)
		if o.Numeric != nil {
			v = record.Number(*o.Numeric)
		}
		if v.IsMissing() {
			continue
		}

		k := key{o.StayID, HourIndex(o.AdmittedAt, o.ObservedAt)}
		row, ok := cells[k]
		if !ok {
			row = make(map[string]latest)
			cells[k] = row
			order = append(order, k)
		}
		if prev, ok := row[field]; !ok || !o.ObservedAt.Before(prev.at) {
			row[field] = latest{at: o.ObservedAt, value: v}
		}
		admitted[o.StayID] = o.AdmittedAt
		present[field] = true
	}

	rows := make([]record.Record, 0, len(order))
	for _, k := range order {
		fields := make(map[string]record.Value, len(cells[k]))
		for name, l := range cells[k] {
			fields[name] = l.value
		}

		onset, hasOnset := onsets[k.stay]
		label := Label(k.hour, HourIndex(admitted[k.stay], onset), hasOnset)
		rows = append(rows, record.Record{
			PatientID: k.stay,
			Hour:      k.hour,
			Fields:    fields,
			Label:     &label,
		})
	}
	dataset.SortRows(rows)

	return dataset.New(columns(present), rows)
}

func columns(present map[string]bool) []string {
	cols := []string{dataset.ColumnPatient, dataset.ColumnHour}
	seen := make(map[string]bool)
	for _, b := range vitals.Bounds {
		if present[b.Field] {
			cols = append(cols, b.Field)
			seen[b.Field] = true
		}
	}
	var rest []string
	for f := range present {
		if !seen[f] {
			rest = append(rest, f)
		}
	}
	sort.Strings(rest)
	cols = append(cols, rest...)
	return append(cols, dataset.ColumnLabel)
}
