package authcore

import (
	"regexp"
	"strings"
)

// Vehicle plates arrive as either "T991 EFN" or "T991-EFN"; both must
// resolve to the same account. The canonical stored form uses a single
// space separator.
var platePattern = regexp.MustCompile(`^[A-Za-z]{1,3}\d{1,4}[ -][A-Za-z]{2,3}$`)

// NormalizePlate reports whether the identifier has the vehicle-plate
// shape and, if so, returns its canonical form: uppercase with the
// separator normalized to one space. Store implementations must index
// driver accounts by this canonical form.
func NormalizePlate(identifier string) (string, bool) {
	s := strings.TrimSpace(identifier)
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, "-", " ")), " ")
	probe := strings.ReplaceAll(s, " ", "-")
	if !platePattern.MatchString(probe) {
		return "", false
	}
	return strings.ToUpper(s), true
}
