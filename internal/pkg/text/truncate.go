// Package text holds small string helpers shared by logs, alerts and the audit journal.
package text

import "unicode/utf8"

// Truncate cuts s to at most max runes and appends "..." when it had to cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
