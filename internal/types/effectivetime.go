package types

import "regexp"

// effectiveTimePattern matches a well-formed YYYYMMDD effective time string.
// Anything else (including a string like "2023-07-31") is treated as null.
var effectiveTimePattern = regexp.MustCompile(`^\d{8}$`)

// ParseEffectiveTime converts an RF2 effectiveTime field to its nullable
// integer form. An empty string is null; a string that doesn't match
// YYYYMMDD is also null (never an error — RF2 rows with malformed dates are
// simply treated as unreleased).
func ParseEffectiveTime(s string) *int {
	if s == "" {
		return nil
	}
	if !effectiveTimePattern.MatchString(s) {
		return nil
	}
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return &n
}

// ParseActive interprets the RF2 "active" column: "1" means active,
// anything else means inactive.
func ParseActive(s string) bool {
	return s == "1"
}
