package sanitize

import (
	"strings"
	"unicode"
)

// Text sanitizes user-provided text (chat messages, board entries) by
// removing control characters other than newlines and limiting the length.
func Text(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' {
			continue
		}
		if b.Len() >= maxLen {
			break
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Name sanitizes a display name: control characters are stripped and
// the result is trimmed. Unlike Text, newlines are not allowed.
func Name(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if b.Len() >= maxLen {
			break
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
