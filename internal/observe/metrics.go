// Package observe provides the observability primitives for tsoled:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and scraped through
// [Handler]. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tsoled metrics.
const meterName = "github.com/MrWong99/tsoled"

// Status values used for the "status" attribute.
const (
	StatusOK       = "ok"
	StatusTimeout  = "timeout"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Poll loop ---

	// PollDuration tracks the wall time of one query round trip.
	PollDuration metric.Float64Histogram

	// Polls counts poll cycles. Use with attribute.String("status", ...).
	Polls metric.Int64Counter

	// RecordsSkipped counts response fragments without a usable client ID.
	RecordsSkipped metric.Int64Counter

	// SpeakerTransitions counts speakers entering and leaving the active set.
	// Use with attribute.String("kind", "start"|"stop").
	SpeakerTransitions metric.Int64Counter

	// ActiveSpeakers reports the size of the active speaker set.
	ActiveSpeakers metric.Int64Gauge

	// Reconnects counts query connections re-established after a loss.
	Reconnects metric.Int64Counter

	// --- Display ---

	// DisplayPushes counts pushes to the display service. Use with
	// attribute.String("status", ...).
	DisplayPushes metric.Int64Counter

	// DisplayPushDuration tracks push latency.
	DisplayPushDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) around the
// 100 ms poll cadence and the 2 s request timeouts.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PollDuration, err = m.Float64Histogram("tsoled.poll.duration",
		metric.WithDescription("Latency of one speaker query round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Polls, err = m.Int64Counter("tsoled.polls",
		metric.WithDescription("Total poll cycles by status."),
	); err != nil {
		return nil, err
	}
	if met.RecordsSkipped, err = m.Int64Counter("tsoled.records.skipped",
		metric.WithDescription("Response fragments dropped for lack of a valid client ID."),
	); err != nil {
		return nil, err
	}
	if met.SpeakerTransitions, err = m.Int64Counter("tsoled.speaker.transitions",
		metric.WithDescription("Speakers entering (start) or leaving (stop) the active set."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSpeakers, err = m.Int64Gauge("tsoled.active_speakers",
		metric.WithDescription("Number of speakers currently considered talking."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("tsoled.query.reconnects",
		metric.WithDescription("Query connections re-established after a loss."),
	); err != nil {
		return nil, err
	}

	if met.DisplayPushes, err = m.Int64Counter("tsoled.display.pushes",
		metric.WithDescription("Total display pushes by status."),
	); err != nil {
		return nil, err
	}
	if met.DisplayPushDuration, err = m.Float64Histogram("tsoled.display.push.duration",
		metric.WithDescription("Latency of display pushes."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("tsoled.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPoll records one poll cycle outcome and its query latency.
func (m *Metrics) RecordPoll(ctx context.Context, status string, d time.Duration) {
	m.Polls.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
	m.PollDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status)))
}

// RecordPush records one display push outcome and its latency.
func (m *Metrics) RecordPush(ctx context.Context, status string, d time.Duration) {
	m.DisplayPushes.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
	m.DisplayPushDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status)))
}

// RecordTransitions adds speaker start and stop counts. Zero counts are not
// recorded.
func (m *Metrics) RecordTransitions(ctx context.Context, started, stopped int) {
	if started > 0 {
		m.SpeakerTransitions.Add(ctx, int64(started), metric.WithAttributes(Attr("kind", "start")))
	}
	if stopped > 0 {
		m.SpeakerTransitions.Add(ctx, int64(stopped), metric.WithAttributes(Attr("kind", "stop")))
	}
}
