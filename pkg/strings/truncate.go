// Package strings holds text helpers for terminal output.
package strings

import (
	"strings"
)

// MinTruncateLen is the smallest useful maxLen for Truncate: one character
// plus "...".
const MinTruncateLen = 4

// Truncate collapses all whitespace runs in s to single spaces and cuts the
// result to at most maxLen runes, ending in "..." when cut. maxLen is clamped
// to MinTruncateLen.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
