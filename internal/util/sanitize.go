package util

import (
	"strings"
	"unicode"
)

// ContainsSuspicious reports markup or template syntax that has no business
// in a name or address field. Plain words are never rejected.
func ContainsSuspicious(s string) bool {
	return strings.ContainsAny(s, "<>") || strings.Contains(s, "${") || strings.Contains(s, "{{")
}

// IsSafeIdentifier accepts ids that can be embedded in an object key:
// letters, digits, '-' and '_' only.
func IsSafeIdentifier(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	for _, r := range s {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
