// Package clientquery speaks the TeamSpeak 3 ClientQuery protocol: a
// line-oriented text interface exposed by the desktop client on a local TCP
// port.
//
// The package has two halves:
//
//   - [Parse] and [ParseFragment] turn the body of a "clientlist -voice"
//     response into [SpeakerRecord] values. Parsing never fails; fragments
//     that are not client records are skipped individually.
//   - [Client] owns the TCP connection: banner, API key authentication,
//     request/response framing and a best-effort "quit" on close.
//
// Responses group client records either one per line or joined on a single
// line with a literal '|'. Both layouts are accepted everywhere.
package clientquery

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

const (
	// keyClientID is the token key carrying the per-connection client ID.
	keyClientID = "clid"

	// keyNickname is the token key carrying the escaped client nickname.
	keyNickname = "client_nickname"

	// recordSeparator joins several client records on one line.
	recordSeparator = "|"
)

// TalkingIndicators is the talking-state policy: a record counts as talking
// when it carries any one of these tokens. The protocol is inconsistent about
// which flag reflects live voice activity, so all three are honoured.
var TalkingIndicators = []string{
	"client_flag_talking=1",
	"client_is_talker=1",
	"client_talk_request=1",
}

// SpeakerRecord is one client's state as reported by a single response.
// Records are produced fresh on every poll and are never retained.
type SpeakerRecord struct {
	// ClientID identifies the client within the current server connection.
	// Always > 0.
	ClientID int

	// RawNickname is the client_nickname value exactly as sent, still
	// carrying protocol escape sequences (see [Unescape]).
	RawNickname string

	// Talking reports whether any of the [TalkingIndicators] is present.
	Talking bool
}

// Parse splits a raw response body into client records. Records may be
// separated by newlines, by '|', or by any mix of both. Fragments that do not
// describe a client are dropped, and a client ID that repeats within the
// response keeps its first occurrence.
func Parse(raw string) []SpeakerRecord {
	records, _ := ParseCounted(raw)
	return records
}

// ParseCounted is [Parse] that additionally reports how many non-empty
// fragments were discarded.
func ParseCounted(raw string) ([]SpeakerRecord, int) {
	var (
		records []SpeakerRecord
		skipped int
		seen    = make(map[int]struct{})
	)
	for line := range strings.SplitSeq(raw, "\n") {
		for fragment := range strings.SplitSeq(line, recordSeparator) {
			fragment = strings.TrimSpace(fragment)
			if fragment == "" {
				continue
			}
			rec, ok := ParseFragment(fragment)
			if !ok {
				skipped++
				slog.Debug("clientquery: skipping fragment", "fragment", fragment)
				continue
			}
			if _, dup := seen[rec.ClientID]; dup {
				skipped++
				slog.Debug("clientquery: duplicate client id in response", "clid", rec.ClientID)
				continue
			}
			seen[rec.ClientID] = struct{}{}
			records = append(records, rec)
		}
	}
	return records, skipped
}

// ParseFragment extracts a [SpeakerRecord] from a single record fragment.
// It reports false when the fragment is not a client record: either the clid
// or the client_nickname token is missing, or the client ID is zero or not
// a plain decimal number.
func ParseFragment(fragment string) (SpeakerRecord, bool) {
	var (
		rec              SpeakerRecord
		idText           string
		haveID, haveNick bool
	)
	for _, tok := range strings.Fields(fragment) {
		key, value, _ := strings.Cut(tok, "=")
		switch {
		case key == keyClientID && !haveID:
			idText, haveID = value, true
		case key == keyNickname && !haveNick:
			rec.RawNickname, haveNick = value, true
		case slices.Contains(TalkingIndicators, tok):
			rec.Talking = true
		}
	}
	if !haveID || !haveNick {
		return SpeakerRecord{}, false
	}
	id, ok := parseClientID(idText)
	if !ok {
		return SpeakerRecord{}, false
	}
	rec.ClientID = id
	return rec, true
}

// parseClientID accepts only non-empty ASCII digit strings with a value > 0.
func parseClientID(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	id, err := strconv.Atoi(s)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
