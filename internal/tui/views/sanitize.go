package views

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// sanitizeForTerminal removes codepoints that break tcell rendering or could
// drive the terminal. Message text comes from other users, so this also
// drops control characters other than newline and tab.
//   - Skin tone modifiers (U+1F3FB..U+1F3FF)
//   - Zero Width Joiner (U+200D)
//   - Variation Selectors (U+FE00..U+FE0F, U+E0100..U+E01EF)
//   - C0/C1 controls such as ESC
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else if !isProblematicRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

// oneLine flattens text for table cells.
func oneLine(s string) string {
	return strings.Join(strings.Fields(sanitizeForTerminal(s)), " ")
}

func isProblematicRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case unicode.IsControl(r):
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
