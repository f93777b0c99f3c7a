package clientquery

import (
	"reflect"
	"strings"
	"testing"
)

// voiceRecords are "clientlist -voice" records in the shape the TeamSpeak 3
// client sends them.
var voiceRecords = []string{
	`clid=5 cid=1 client_database_id=12 client_nickname=[BR]-Crossbearer(Daniel) client_type=0 client_flag_talking=1 client_input_muted=0`,
	`clid=7 cid=1 client_database_id=3 client_nickname=FatzRatz client_type=0 client_flag_talking=0 client_is_talker=0`,
	`clid=9 cid=1 client_database_id=4 client_nickname=The\sDeadman(Uwe) client_type=0 client_flag_talking=0 client_is_talker=1`,
	`clid=11 cid=1 client_database_id=8 client_nickname=Falcon client_type=0 client_talk_request=1`,
}

func TestParse_DualDelimiter(t *testing.T) {
	t.Parallel()

	byNewline := Parse(strings.Join(voiceRecords, "\n"))
	byPipe := Parse(strings.Join(voiceRecords, "|"))
	byCRLF := Parse(strings.Join(voiceRecords, "\n\r"))
	mixed := Parse(voiceRecords[0] + "|" + voiceRecords[1] + "\n" + voiceRecords[2] + " | " + voiceRecords[3])

	if len(byNewline) != len(voiceRecords) {
		t.Fatalf("newline layout: got %d records, want %d", len(byNewline), len(voiceRecords))
	}
	for name, got := range map[string][]SpeakerRecord{"pipe": byPipe, "crlf": byCRLF, "mixed": mixed} {
		if !reflect.DeepEqual(got, byNewline) {
			t.Errorf("%s layout = %+v, want %+v", name, got, byNewline)
		}
	}
}

func TestParse_TalkingIndicators(t *testing.T) {
	t.Parallel()

	got := Parse(strings.Join(voiceRecords, "|"))
	want := []SpeakerRecord{
		{ClientID: 5, RawNickname: `[BR]-Crossbearer(Daniel)`, Talking: true},
		{ClientID: 7, RawNickname: `FatzRatz`, Talking: false},
		{ClientID: 9, RawNickname: `The\sDeadman(Uwe)`, Talking: true},
		{ClientID: 11, RawNickname: `Falcon`, Talking: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse() = %+v\nwant %+v", got, want)
	}
}

func TestParse_SkipsNonRecords(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"TS3 Client",
		"Welcome to the TeamSpeak 3 ClientQuery interface, type \"help\" for a list of commands.",
		"selected schandlerid=1",
		"clid=0 client_nickname=ServerQuery client_flag_talking=1",
		"clid=abc client_nickname=Bogus client_flag_talking=1",
		"clid=-4 client_nickname=Negative client_flag_talking=1",
		"clid=3 client_flag_talking=1",
		"cid=3 client_nickname=NoClid client_flag_talking=1",
		"clid=4 client_nickname=Kept client_flag_talking=1",
		"clid=4 client_nickname=Duplicate client_flag_talking=0",
		"",
		"   ",
	}, "\n")

	got, skipped := ParseCounted(raw)
	want := []SpeakerRecord{{ClientID: 4, RawNickname: "Kept", Talking: true}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("records = %+v, want %+v", got, want)
	}
	if skipped != 9 {
		t.Errorf("skipped = %d, want 9", skipped)
	}
}

func TestParse_TruncatedResponse(t *testing.T) {
	t.Parallel()

	// A read timeout may cut the last record anywhere.
	raw := strings.Join(voiceRecords, "|")
	cut := raw[:strings.Index(raw, "clid=11")+len("clid=1")]

	got := Parse(cut)
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3: %+v", len(got), got)
	}
	if got[2].ClientID != 9 {
		t.Errorf("last record clid = %d, want 9", got[2].ClientID)
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "\n", "|", " | \n | "} {
		if got := Parse(raw); len(got) != 0 {
			t.Errorf("Parse(%q) = %+v, want none", raw, got)
		}
	}
}

func TestParseFragment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fragment string
		want     SpeakerRecord
		wantOK   bool
	}{
		{
			name:     "minimal talking",
			fragment: "clid=1 client_nickname=A client_flag_talking=1",
			want:     SpeakerRecord{ClientID: 1, RawNickname: "A", Talking: true},
			wantOK:   true,
		},
		{
			name:     "silent",
			fragment: "client_nickname=B clid=2 client_flag_talking=0",
			want:     SpeakerRecord{ClientID: 2, RawNickname: "B"},
			wantOK:   true,
		},
		{
			name:     "similar key is not the id",
			fragment: "cid=1 client_database_id=2 client_nickname=C",
			wantOK:   false,
		},
		{
			name:     "empty nickname value is still a record",
			fragment: "clid=8 client_nickname= client_flag_talking=1",
			want:     SpeakerRecord{ClientID: 8, Talking: true},
			wantOK:   true,
		},
		{
			name:     "indicator must match exactly",
			fragment: "clid=3 client_nickname=D client_flag_talking=10",
			want:     SpeakerRecord{ClientID: 3, RawNickname: "D"},
			wantOK:   true,
		},
		{
			name:     "first clid wins",
			fragment: "clid=6 client_nickname=E clid=9",
			want:     SpeakerRecord{ClientID: 6, RawNickname: "E"},
			wantOK:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseFragment(tc.fragment)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Errorf("record = %+v, want %+v", got, tc.want)
			}
		})
	}
}
