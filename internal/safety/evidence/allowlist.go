package evidence

import "sort"

// AllowlistVersion identifies the set of structured intake fields that may
// back verified evidence. Widening the list changes what "verified" can mean
// and must bump the version.
const AllowlistVersion = "intake-fields/v3"

var allowedFieldPaths = map[string]struct{}{
	"structured_data.chief_complaint":                      {},
	"structured_data.history_of_present_illness.onset":     {},
	"structured_data.history_of_present_illness.duration":  {},
	"structured_data.history_of_present_illness.severity":  {},
	"structured_data.history_of_present_illness.course":    {},
	"structured_data.history_of_present_illness.location":  {},
	"structured_data.red_flags":                            {},
	"structured_data.medications":                          {},
	"structured_data.allergies":                            {},
	"structured_data.uncertainties":                        {},
	"structured_data.scores.phq9":                          {},
	"structured_data.scores.gad7":                          {},
	"structured_data.vitals.heart_rate":                    {},
	"structured_data.vitals.systolic_bp":                   {},
}

// Allowed reports whether path may be referenced by intake evidence.
func Allowed(path string) bool {
	_, ok := allowedFieldPaths[path]
	return ok
}

// AllowedFieldPaths returns the allowlist in sorted order.
func AllowedFieldPaths() []string {
	out := make([]string, 0, len(allowedFieldPaths))
	for p := range allowedFieldPaths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
