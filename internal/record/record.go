// Package record defines the per-hour clinical observation that flows through
// validation, transformation and windowing.
package record

import (
	"math"
	"strconv"
	"strings"
)

type valueKind uint8

const (
	kindMissing valueKind = iota
	kindNumber
	kindText
)

// Value is one optional field value. A numeric value remembers the text it
// was parsed from so categorical columns can key on it.
type Value struct {
	kind valueKind
	num  float64
	text string
}

// Missing returns an absent value.
func Missing() Value { return Value{} }

// Number returns a numeric value.
func Number(f float64) Value {
	if math.IsNaN(f) {
		return Missing()
	}
	return Value{kind: kindNumber, num: f, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// Text returns a categorical value. Empty text is missing.
func Text(s string) Value {
	if s == "" {
		return Missing()
	}
	return Value{kind: kindText, text: s}
}

// Parse interprets a raw cell. Empty and NaN-like cells are missing,
// parseable floats are numbers, anything else is text.
func Parse(raw string) Value {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "nan", "na", "null", "none":
		return Missing()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return Value{kind: kindNumber, num: f, text: s}
	}
	return Value{kind: kindText, text: s}
}

func (v Value) IsMissing() bool { return v.kind == kindMissing }
func (v Value) IsNumber() bool  { return v.kind == kindNumber }
func (v Value) IsText() bool    { return v.kind == kindText }

// Float returns the numeric value and whether the value is numeric.
func (v Value) Float() (float64, bool) {
	if v.kind != kindNumber {
		return 0, false
	}
	return v.num, true
}

// String returns the raw text of the value, or "" when missing.
func (v Value) String() string {
	return v.text
}

// MarshalJSON writes numbers as JSON numbers, text as strings and missing as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindNumber:
		return []byte(strconv.FormatFloat(v.num, 'g', -1, 64)), nil
	case kindText:
		return []byte(strconv.Quote(v.text)), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*v = Missing()
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		text, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		*v = Text(text)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*v = Number(f)
	return nil
}

// Record is one timestamped observation for one patient.
type Record struct {
	PatientID string           `json:"patient_id"`
	Hour      int              `json:"hour"`
	Fields    map[string]Value `json:"fields"`
	// Label is only set for training data
	Label *int `json:"label,omitempty"`
	// Sentinel marks a padding record with every field absent
	Sentinel bool `json:"sentinel,omitempty"`
}

// Sentinel returns the schema-compatible empty record used to left-pad short
// histories at serving time.
func Sentinel() Record {
	return Record{Fields: map[string]Value{}, Sentinel: true}
}

// Get returns the value of a field, missing when absent.
func (r Record) Get(field string) Value {
	if r.Fields == nil {
		return Missing()
	}
	return r.Fields[field]
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Fields = make(map[string]Value, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	if r.Label != nil {
		label := *r.Label
		out.Label = &label
	}
	return out
}

// FromRaw converts a decoded JSON submission into a record. Numbers stay
// numbers, numeric strings are parsed, other strings become categorical text,
// nil and empty strings are missing.
func FromRaw(patientID string, hour int, raw map[string]any) Record {
	fields := make(map[string]Value, len(raw))
	for name, v := range raw {
		switch x := v.(type) {
		case nil:
			fields[name] = Missing()
		case float64:
			fields[name] = Number(x)
		case float32:
			fields[name] = Number(float64(x))
		case int:
			fields[name] = Number(float64(x))
		case int64:
			fields[name] = Number(float64(x))
		case string:
			fields[name] = Parse(x)
		case bool:
			fields[name] = Text(strconv.FormatBool(x))
		default:
			fields[name] = Missing()
		}
	}
	return Record{PatientID: patientID, Hour: hour, Fields: fields}
}
