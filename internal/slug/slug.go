package slug

import (
	"regexp"
	"strings"
)

var reCode = regexp.MustCompile(`^[A-Z0-9_-]{2,32}$`)

// IsCode returns true if s matches ^[A-Z0-9_-]{2,32}$
func IsCode(s string) bool {
	return reCode.MatchString(s)
}

// Code normalizes s to an account code: uppercase, runs of characters outside
// [A-Z0-9_-] become a single '_', trimmed to 32 and stripped of leading or
// trailing '_'. "Petty cash 01" becomes "PETTY_CASH_01".
func Code(s string) string {
	if s == "" {
		return s
	}
	out := make([]rune, 0, len(s))
	prevUnderscore := false
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		switch {
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-':
			out = append(out, r)
			prevUnderscore = false
		default:
			if !prevUnderscore {
				out = append(out, '_')
				prevUnderscore = true
			}
		}
		if len(out) >= 32 {
			break
		}
	}
	return strings.Trim(string(out), "_")
}
