package vitals

// Bound is the accepted physiological range of one field, inclusive.
type Bound struct {
	Field string
	Min   float64
	Max   float64
}

// Contains reports whether v lies within the bound.
func (b Bound) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Bounds is the submission-time table. Order is significant: violations are
// reported in this order.
var Bounds = []Bound{
	// vital signs
	{"HR", 40, 200},
	{"Temp", 35, 42},
	{"SBP", 60, 250},
	{"DBP", 30, 150},
	{"MAP", 40, 180},
	{"Resp", 8, 50},
	{"O2Sat", 70, 100},
	{"EtCO2", 10, 80},

	// hematology
	{"WBC", 1, 50},
	{"Platelets", 20, 800},
	{"Hgb", 5, 20},
	{"Hct", 15, 65},

	// chemistry
	{"Creatinine", 0.3, 15},
	{"BUN", 3, 150},
	{"Glucose", 30, 600},
	{"Lactate", 0.5, 20},
	{"Bilirubin_total", 0.1, 30},
	{"Bilirubin_direct", 0, 15},

	// arterial blood gas
	{"pH", 6.8, 7.8},
	{"PaCO2", 15, 100},
	{"PaO2", 40, 500},
	{"HCO3", 10, 45},
	{"BaseExcess", -20, 20},

	// electrolytes
	{"Calcium", 5, 15},
	{"Chloride", 70, 130},
	{"Potassium", 2, 8},
	{"Magnesium", 0.5, 5},

	// liver
	{"AST", 5, 5000},
	{"ALT", 5, 5000},
	{"ALP", 20, 1000},

	// biomarkers
	{"PCT", 0.01, 100},
	{"CRP", 0, 500},
	{"Presepsin", 100, 5000},
	{"IL6", 0, 1000},
	{"IL1b", 0, 200},
	{"ESR", 0, 150},
	{"MDW", 15, 40},
	{"MPV", 5, 15},
	{"RDW", 10, 25},
	{"Neutrophils", 0.5, 40},
	{"Lymphocytes", 0.2, 10},
	{"DDimer", 0, 20},
	{"PT", 8, 50},
	{"aPTT", 15, 100},
	{"INR", 0.5, 10},
	{"IonizedCalcium", 0.8, 1.5},
	{"Phosphorus", 1, 10},
	{"Albumin", 1.5, 6},
	{"Sodium", 110, 170},
	{"NLR", 0.1, 100},
	{"PLR", 10, 1000},
	{"AnionGap", 0, 40},
	{"Urine_output", 0, 500},
}

// Lookup returns the bound for a field.
func Lookup(field string) (Bound, bool) {
	for _, b := range Bounds {
		if b.Field == field {
			return b, true
		}
	}
	return Bound{}, false
}
