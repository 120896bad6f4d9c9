package segment

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	nameStripPattern = regexp.MustCompile(`[^\p{L}\p{N}_ \-]`)
	idStripPattern   = regexp.MustCompile(`[^\p{L}\p{N}_]`)
)

const (
	minNameLength = 2
	minDOBLength  = 6
	minIDLength   = 3
)

// Normalize converts a raw extracted string into the canonical form for
// field. It returns nil when the value does not pass the field's validity
// check.
func Normalize(raw string, field Field) *string {
	value := strings.TrimSpace(raw)

	switch field {
	case FieldName:
		value = strings.TrimSpace(nameStripPattern.ReplaceAllString(value, ""))
		if utf8.RuneCountInString(value) < minNameLength || isAllDigits(value) {
			return nil
		}
	case FieldDOB:
		if utf8.RuneCountInString(value) < minDOBLength || !strings.ContainsFunc(value, unicode.IsDigit) {
			return nil
		}
	case FieldPatientID:
		value = idStripPattern.ReplaceAllString(value, "")
		if utf8.RuneCountInString(value) < minIDLength {
			return nil
		}
	default:
		return nil
	}

	return &value
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
