// Package observe provides application-wide observability primitives for
// Reverie: OpenTelemetry metrics, tracing helpers, and the Prometheus
// exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via a standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Reverie metrics.
const meterName = "github.com/reverie-voice/reverie"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionDuration tracks the live duration of conversation sessions, from
	// entering Connecting to reaching Ended or Failed.
	SessionDuration metric.Float64Histogram

	// TokenRequestDuration tracks the latency of signed-token exchanges.
	TokenRequestDuration metric.Float64Histogram

	// Utterances counts transcript turns. Use with attribute:
	//   attribute.String("speaker", ...)
	Utterances metric.Int64Counter

	// SessionOutcomes counts terminal session states. Use with attribute:
	//   attribute.String("outcome", "ended"|"failed")
	SessionOutcomes metric.Int64Counter

	// SaveOutcomes counts resolved save decisions. Use with attribute:
	//   attribute.String("outcome", "confirmed"|"discarded")
	SaveOutcomes metric.Int64Counter

	// PersistenceErrors counts failed memory-store writes.
	PersistenceErrors metric.Int64Counter

	// ActiveSessions tracks the number of live conversation sessions
	// (at most one by design; the gauge makes violations visible).
	ActiveSessions metric.Int64UpDownCounter
}

// sessionBuckets defines histogram boundaries (in seconds) sized for
// conversations lasting from a few seconds to tens of minutes.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// tokenBuckets defines histogram boundaries (in seconds) for the token
// exchange round-trip.
var tokenBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionDuration, err = m.Float64Histogram("reverie.session.duration",
		metric.WithDescription("Live duration of conversation sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TokenRequestDuration, err = m.Float64Histogram("reverie.token.request.duration",
		metric.WithDescription("Latency of signed session token exchanges."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tokenBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("reverie.utterances",
		metric.WithDescription("Transcript turns appended, by speaker."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("reverie.session.outcomes",
		metric.WithDescription("Terminal session states, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SaveOutcomes, err = m.Int64Counter("reverie.save.outcomes",
		metric.WithDescription("Resolved save decisions, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PersistenceErrors, err = m.Int64Counter("reverie.persistence.errors",
		metric.WithDescription("Failed memory store writes."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("reverie.sessions.active",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics caches the instance built from the global meter provider.
var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics returns the package-level [Metrics] built from the globally
// registered meter provider. Instruments created before [InitProvider] runs
// record into the default no-op provider, so call InitProvider first in main.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// Instrument creation only fails on invalid names; fall back to a
			// nil instance which all recorders treat as disabled.
			m = nil
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordUtterance increments the utterance counter. Nil-safe so callers can
// run without metrics wired.
func (m *Metrics) RecordUtterance(ctx context.Context, speaker string) {
	if m == nil {
		return
	}
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordSessionEnd records a terminal session state and its duration in
// seconds. Nil-safe.
func (m *Metrics) RecordSessionEnd(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if seconds > 0 {
		m.SessionDuration.Record(ctx, seconds)
	}
}

// RecordSaveOutcome records a resolved save decision. Nil-safe.
func (m *Metrics) RecordSaveOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.SaveOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPersistenceError counts a failed memory-store write. Nil-safe.
func (m *Metrics) RecordPersistenceError(ctx context.Context) {
	if m == nil {
		return
	}
	m.PersistenceErrors.Add(ctx, 1)
}

// AddActiveSessions moves the active-session gauge by delta. Nil-safe.
func (m *Metrics) AddActiveSessions(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}

// RecordTokenRequest records one token exchange duration in seconds. Nil-safe.
func (m *Metrics) RecordTokenRequest(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.TokenRequestDuration.Record(ctx, seconds)
}
