package comparables

import (
	"strings"
	"unicode"
)

// NormalizeTitle lowercases title, turns every non-alphanumeric rune into a
// separator and collapses whitespace. It is idempotent.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	pendingSpace := false
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSpace = true
	}

	return b.String()
}
