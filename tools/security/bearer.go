package security

import (
	"strings"
	"unicode"
)

const bearerPrefix = "bearer "

// StripBearer trims whitespace and a case-insensitive "Bearer " prefix.
func StripBearer(v string) string {
	v = strings.TrimLeftFunc(v, unicode.IsSpace)
	if len(v) >= len(bearerPrefix) && strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		v = v[len(bearerPrefix):]
	}
	return strings.TrimSpace(v)
}
