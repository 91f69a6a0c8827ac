package utils

import (
	"strings"
	"unicode"
)

// NormalizeWhitespace collapses runs of whitespace, including U+3000, into
// single spaces.
func NormalizeWhitespace(str string) string {
	return strings.Join(strings.FieldsFunc(str, unicode.IsSpace), " ")
}

// Truncate cuts str to at most maxRunes runes, appending "..." when cut.
func Truncate(str string, maxRunes int) string {
	runes := []rune(str)
	if len(runes) <= maxRunes {
		return str
	}

	return string(runes[:maxRunes]) + "..."
}

// ContainsAny reports whether s contains any of the substrings.
func ContainsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}

	return false
}

// SafeFileName replaces path separators and control characters so the
// result can be used as a single path segment.
func SafeFileName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '?' || r == '*' || r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, name)

	mapped = strings.TrimSpace(mapped)
	if mapped == "" {
		return "document"
	}

	return mapped
}
