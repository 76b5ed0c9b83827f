package enrollment

import (
	"strings"
	"unicode"
)

// DigitsOnly drops every character that is not an ASCII digit.
func DigitsOnly(value string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, value)
}

// NormalizeNationalID returns the canonical, digits-only CPF.
func NormalizeNationalID(value string) string {
	return DigitsOnly(value)
}

// NormalizePostalCode formats an 8-digit CEP as NNNNN-NNN. Anything else is
// returned unchanged.
func NormalizePostalCode(value string) string {
	digits := DigitsOnly(value)
	if len(digits) != 8 {
		return value
	}
	return digits[:5] + "-" + digits[5:]
}

func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func blank(value string) bool {
	return strings.IndexFunc(value, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}
