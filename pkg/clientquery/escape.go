package clientquery

import "strings"

// Unescape decodes ClientQuery escape sequences in a parameter value:
// `\s` becomes a space and `\\` a single backslash. The input is scanned once
// from left to right, so `\\s` yields a literal `\s` rather than `\ `.
// Sequences outside that table are kept verbatim.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 's':
			b.WriteByte(' ')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
