// Package poller runs the bridge's main loop: query who is talking, update
// the speaker set, push the display text when it changed, sleep, repeat.
//
// The loop is strictly sequential. A cycle performs at most one query and one
// push, each bounded by its own timeout, so a cycle never overlaps the next.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/tsoled/internal/display"
	"github.com/MrWong99/tsoled/internal/observe"
	"github.com/MrWong99/tsoled/internal/resilience"
	"github.com/MrWong99/tsoled/internal/speaker"
	"github.com/MrWong99/tsoled/pkg/clientquery"
)

// Defaults for a [Driver].
const (
	DefaultCommand      = "clientlist -voice"
	DefaultPollInterval = 100 * time.Millisecond
)

// Session is an authenticated query connection. *clientquery.Client
// satisfies it.
type Session interface {
	Command(ctx context.Context, cmd string) (string, error)
	Close() error
}

// Config configures a [Driver].
type Config struct {
	// Command is sent once per cycle. Default: [DefaultCommand].
	Command string

	// PollInterval is the sleep between cycles. Default: [DefaultPollInterval].
	PollInterval time.Duration
}

// Driver owns one tracker and one composer and feeds them from a [Session].
// The tracker and composer outlive sessions, so a reconnect neither loses
// the speaker set nor repeats an identical push.
type Driver struct {
	cfg       Config
	transport display.Transport
	tracker   *speaker.Tracker
	composer  *display.Composer
	now       func() time.Time
	metrics   *observe.Metrics

	// Read by health checks from other goroutines.
	lastPoll       atomic.Int64 // unix nanos of the last successful query
	lastPushFailed atomic.Bool
	active         atomic.Int64
}

// Option configures a [Driver].
type Option func(*Driver)

// WithClock replaces the time source used for debounce decisions.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// New creates a [Driver].
func New(cfg Config, tracker *speaker.Tracker, composer *display.Composer, transport display.Transport, opts ...Option) *Driver {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	d := &Driver{
		cfg:       cfg,
		transport: transport,
		tracker:   tracker,
		composer:  composer,
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Run polls s until ctx is cancelled or the connection fails. s is closed
// (with a best-effort quit) before Run returns. Cancellation returns nil; a
// lost connection returns an error wrapping [clientquery.ErrConnection].
func (d *Driver) Run(ctx context.Context, s Session) error {
	defer func() {
		if err := s.Close(); err != nil {
			observe.Logger(ctx).Debug("closing query session", "err", err)
		}
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := d.Cycle(ctx, s); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("poller: %w", err)
		}
		timer.Reset(d.cfg.PollInterval)
	}
}

// Cycle performs one poll cycle on s. Only errors that end the session are
// returned: command timeouts and query-level errors are logged and the
// cycle continues with whatever was received.
func (d *Driver) Cycle(ctx context.Context, s Session) error {
	ctx, span := observe.StartSpan(ctx, "poll.cycle")
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	raw, err := s.Command(ctx, d.cfg.Command)
	elapsed := time.Since(start)

	var qerr *clientquery.QueryError
	switch {
	case err == nil:
		d.lastPoll.Store(d.now().UnixNano())
		d.metrics.RecordPoll(ctx, observe.StatusOK, elapsed)
	case errors.Is(err, clientquery.ErrTimeout):
		log.Warn("speaker query timed out", "after", elapsed, "partial_bytes", len(raw))
		d.metrics.RecordPoll(ctx, observe.StatusTimeout, elapsed)
	case errors.As(err, &qerr):
		// The client is up but e.g. not connected to a server; nobody talks.
		log.Warn("speaker query rejected", "err", err)
		d.metrics.RecordPoll(ctx, observe.StatusError, elapsed)
		raw = ""
	default:
		observe.SpanError(span, err)
		d.metrics.RecordPoll(ctx, observe.StatusError, elapsed)
		return err
	}

	records, skipped := clientquery.ParseCounted(raw)
	if skipped > 0 {
		d.metrics.RecordsSkipped.Add(ctx, int64(skipped))
	}

	active := d.tracker.Update(records, d.now())
	if tx := d.tracker.LastTransitions(); tx.Changed() {
		log.Debug("speakers changed", "started", tx.Started, "stopped", tx.Stopped, "active", len(active))
		d.metrics.RecordTransitions(ctx, len(tx.Started), len(tx.Stopped))
	}
	d.active.Store(int64(len(active)))
	d.metrics.ActiveSpeakers.Record(ctx, int64(len(active)))
	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("active", len(active)),
	)

	if text, send := d.composer.Compose(active); send {
		d.push(ctx, text)
	}
	return nil
}

// Clear pushes the idle text, regardless of what the display is believed to
// show. Used once when the bridge stops.
func (d *Driver) Clear(ctx context.Context) error {
	d.composer.Compose(nil)
	return d.push(ctx, d.composer.IdleText())
}

// push sends text and records the outcome with the composer.
func (d *Driver) push(ctx context.Context, text string) error {
	ctx, span := observe.StartSpan(ctx, "display.push", trace.WithAttributes(
		attribute.Int("text_len", len(text)),
	))
	defer span.End()

	start := time.Now()
	err := d.transport.SetDisplayText(ctx, text)
	elapsed := time.Since(start)

	d.composer.Delivered(text, err)
	d.lastPushFailed.Store(err != nil)

	log := observe.Logger(ctx)
	switch {
	case err == nil:
		d.metrics.RecordPush(ctx, observe.StatusOK, elapsed)
		log.Debug("display updated", "text", text, "took", elapsed)
	case errors.Is(err, resilience.ErrCircuitOpen):
		d.metrics.RecordPush(ctx, observe.StatusRejected, elapsed)
		log.Debug("display push skipped, breaker open", "text", text)
	default:
		observe.SpanError(span, err)
		d.metrics.RecordPush(ctx, observe.StatusError, elapsed)
		log.Warn("display push failed", "text", text, "err", err)
	}
	return err
}

// LastPoll returns the time of the last successful query, or the zero time.
func (d *Driver) LastPoll() time.Time {
	n := d.lastPoll.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// LastPushFailed reports whether the most recent push failed.
func (d *Driver) LastPushFailed() bool {
	return d.lastPushFailed.Load()
}

// Active returns the size of the active speaker set after the last cycle.
func (d *Driver) Active() int {
	return int(d.active.Load())
}
