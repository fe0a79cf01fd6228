// Package format holds the text helpers shared by notification builders.
package format

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// AwardAmount renders a contract amount in millions of dollars with one
// decimal place, e.g. "$12.5M". A nil amount renders as "undisclosed amount".
func AwardAmount(amount *float64) string {
	if amount == nil {
		return "undisclosed amount"
	}
	return fmt.Sprintf("$%.1fM", *amount/1_000_000)
}

// Excerpt shortens s to at most n runes, appending "..." when it was cut.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "..."
}
