package speaker

import (
	"log/slog"
	"maps"
	"time"

	"github.com/MrWong99/tsoled/pkg/clientquery"
)

// ActiveSpeaker is a client currently shown as talking.
type ActiveSpeaker struct {
	ClientID int

	// DisplayName is formatted once, when the speaker is first seen, and not
	// refreshed while the entry lives.
	DisplayName string

	// LastTalkingAt is the time of the latest poll that reported the client
	// as talking.
	LastTalkingAt time.Time
}

// TrackerConfig configures a [Tracker].
type TrackerConfig struct {
	// MaxNickLength is passed to [FormatName] for new speakers.
	MaxNickLength int

	// Debounce is how long a speaker stays active after the last poll that
	// reported them talking. A speaker last seen exactly Debounce ago is still
	// active; one nanosecond later they are evicted.
	Debounce time.Duration
}

// Transitions summarises one [Tracker.Update] call.
type Transitions struct {
	Started []int
	Stopped []int
}

// Changed reports whether the active set gained or lost a member.
func (t Transitions) Changed() bool {
	return len(t.Started) > 0 || len(t.Stopped) > 0
}

// Tracker owns the active speaker set. Per client ID it moves through
// absent → active → (refreshed while talking) → grace period → absent.
//
// A Tracker is driven from a single poll loop and is not safe for concurrent
// use.
type Tracker struct {
	formatter Formatter
	debounce  time.Duration
	active    map[int]ActiveSpeaker
	last      Transitions
}

// NewTracker creates an empty [Tracker].
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		formatter: Formatter{MaxNickLength: cfg.MaxNickLength},
		debounce:  max(cfg.Debounce, 0),
		active:    make(map[int]ActiveSpeaker),
	}
}

// Update applies one poll's records at time now and returns a snapshot of the
// active set keyed by client ID. The snapshot is a copy; the tracker remains
// the only owner of its state.
//
// Talking clients are inserted (if their formatted name is not empty) or
// refreshed. Every tracked client that is not talking in records is evicted
// once now - LastTalkingAt exceeds the debounce window. An empty records slice
// therefore ages entries out instead of clearing them at once.
func (t *Tracker) Update(records []clientquery.SpeakerRecord, now time.Time) map[int]ActiveSpeaker {
	t.last = Transitions{}
	talking := make(map[int]struct{}, len(records))

	for _, rec := range records {
		if !rec.Talking {
			continue
		}
		talking[rec.ClientID] = struct{}{}

		if sp, ok := t.active[rec.ClientID]; ok {
			sp.LastTalkingAt = now
			t.active[rec.ClientID] = sp
			continue
		}

		name := t.formatter.Format(rec.RawNickname)
		if name == "" {
			slog.Debug("speaker: no displayable name", "clid", rec.ClientID, "raw", rec.RawNickname)
			continue
		}
		t.active[rec.ClientID] = ActiveSpeaker{
			ClientID:      rec.ClientID,
			DisplayName:   name,
			LastTalkingAt: now,
		}
		t.last.Started = append(t.last.Started, rec.ClientID)
		slog.Debug("speaker: started", "clid", rec.ClientID, "name", name)
	}

	for id, sp := range t.active {
		if _, ok := talking[id]; ok {
			continue
		}
		if now.Sub(sp.LastTalkingAt) > t.debounce {
			delete(t.active, id)
			t.last.Stopped = append(t.last.Stopped, id)
			slog.Debug("speaker: stopped", "clid", id, "name", sp.DisplayName)
		}
	}

	return maps.Clone(t.active)
}

// LastTransitions returns the starts and stops caused by the latest
// [Tracker.Update].
func (t *Tracker) LastTransitions() Transitions {
	return t.last
}

// Len returns the number of active speakers.
func (t *Tracker) Len() int {
	return len(t.active)
}
