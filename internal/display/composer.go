// Package display decides what the OLED shows and when it must be updated.
//
// [Composer] reduces the active speaker set to one line of text and gates
// outbound writes: a text is only handed out when it differs from what the
// display already shows, because every push is an HTTP round trip that the
// device renders as a visible redraw.
package display

import (
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/tsoled/internal/speaker"
)

// Separator joins speaker names on the display.
const Separator = " | "

// ComposerConfig configures a [Composer].
type ComposerConfig struct {
	// MaxDisplayed caps how many speakers are shown. Values <= 0 show all.
	MaxDisplayed int

	// IdleText is shown while nobody is talking. The empty string clears the
	// display.
	IdleText string

	// RetryUndelivered makes Compose hand out the current text again after a
	// push reported failure via [Composer.Delivered], until one succeeds.
	RetryUndelivered bool
}

// Composer owns the display state: the last text handed out for pushing.
// It is driven from the single poll loop and is not safe for concurrent use.
type Composer struct {
	cfg ComposerConfig

	current string
	// known is false until the first text has been handed out; the display
	// content before that is unknown, so the first compose always emits.
	known bool
	// undelivered is set when the push of current failed.
	undelivered bool
}

// NewComposer creates a [Composer].
func NewComposer(cfg ComposerConfig) *Composer {
	return &Composer{cfg: cfg}
}

// Text renders active without touching the display state: speakers ordered by
// client ID ascending, at most MaxDisplayed of them, joined by [Separator].
// An empty set renders as IdleText.
func (c *Composer) Text(active map[int]speaker.ActiveSpeaker) string {
	if len(active) == 0 {
		return c.cfg.IdleText
	}
	ids := slices.Sorted(maps.Keys(active))
	if c.cfg.MaxDisplayed > 0 && len(ids) > c.cfg.MaxDisplayed {
		ids = ids[:c.cfg.MaxDisplayed]
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, active[id].DisplayName)
	}
	return strings.Join(names, Separator)
}

// Compose renders active and reports whether the result must be pushed. An
// unchanged text yields ("", false), unless the previous push of that text
// failed and RetryUndelivered is set. A changed text becomes the new display
// state immediately, whether or not its push later succeeds.
func (c *Composer) Compose(active map[int]speaker.ActiveSpeaker) (string, bool) {
	text := c.Text(active)
	if c.known && text == c.current {
		if c.undelivered && c.cfg.RetryUndelivered {
			return text, true
		}
		return "", false
	}
	c.current = text
	c.known = true
	c.undelivered = false
	return text, true
}

// Delivered records the outcome of pushing text. Outcomes for a text that is
// no longer current are ignored.
func (c *Composer) Delivered(text string, err error) {
	if !c.known || text != c.current {
		return
	}
	c.undelivered = err != nil
}

// Current returns the display state and whether any text was handed out yet.
func (c *Composer) Current() (string, bool) {
	return c.current, c.known
}

// IdleText returns the configured idle text.
func (c *Composer) IdleText() string {
	return c.cfg.IdleText
}
