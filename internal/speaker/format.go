// Package speaker turns per-poll client records into a stable set of active
// speakers.
//
// [FormatName] shrinks a TeamSpeak nickname into a short display label.
// [Tracker] keeps the authoritative active set across polls and applies a
// debounce window so that a speaker who pauses for a moment does not flicker
// off the display.
package speaker

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/tsoled/pkg/clientquery"
)

// clanTags are stripped from the start of a nickname.
var clanTags = []string{"[BR]-", "[br]-"}

// annotationSeparator joins a nickname and its parenthesised annotation.
const annotationSeparator = " | "

// FormatName converts a raw, escaped nickname into a display label:
//
//	[BR]-Crossbearer(Daniel)  → "Crossb | Daniel"   (maxNickLength 6)
//	The\sDeadman(Uwe)         → "TheDea | Uwe"
//	FatzRatz                  → "FatzRa"
//
// The part in parentheses is kept in full as an annotation; only the nickname
// before it is truncated to maxNickLength runes. Spaces are removed from both
// parts. A maxNickLength <= 0 disables truncation. Empty input, or input that
// reduces to nothing, yields "".
func FormatName(raw string, maxNickLength int) string {
	s := strings.TrimSpace(clientquery.Unescape(raw))
	for _, tag := range clanTags {
		if rest, ok := strings.CutPrefix(s, tag); ok {
			s = rest
			break
		}
	}

	nick, annotation := splitAnnotation(s)
	nick = strings.ReplaceAll(nick, " ", "")
	annotation = strings.ReplaceAll(annotation, " ", "")
	nick = truncate(nick, maxNickLength)

	switch {
	case annotation == "":
		return nick
	case nick == "":
		return annotation
	default:
		return nick + annotationSeparator + annotation
	}
}

// splitAnnotation separates "Nick(Real Name)" into "Nick" and "Real Name".
// Without a closing parenthesis after the opening one the annotation is empty,
// but the text from '(' onwards is still dropped from the nickname.
func splitAnnotation(s string) (nick, annotation string) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s, ""
	}
	nick = strings.TrimSpace(s[:open])
	rest := s[open+1:]
	if end := strings.IndexByte(rest, ')'); end > 0 {
		annotation = strings.TrimSpace(rest[:end])
	}
	return nick, annotation
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Formatter binds [FormatName] to a fixed nickname length.
type Formatter struct {
	MaxNickLength int
}

// Format formats raw with the configured length.
func (f Formatter) Format(raw string) string {
	return FormatName(raw, f.MaxNickLength)
}
