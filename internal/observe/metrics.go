// Package observe provides application-wide observability primitives for
// chartflow: OpenTelemetry metrics, tracing helpers, and trace-aware
// structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all chartflow
// metrics.
const meterName = "github.com/emberhealth/chartflow"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DiarizationDuration tracks audio-to-labelled-lines latency.
	DiarizationDuration metric.Float64Histogram

	// ExtractionDuration tracks instruction extraction latency, including
	// the self-correction pass when one is issued.
	ExtractionDuration metric.Float64Histogram

	// SynthesisDuration tracks per-instruction parameter synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// ReconciliationDuration tracks questionnaire propose-and-guard latency.
	ReconciliationDuration metric.Float64Histogram

	// --- Counters ---

	// BackendRequests counts model backend calls. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// BackendErrors counts model backend failures by stage.
	BackendErrors metric.Int64Counter

	// InstructionsExtracted counts extracted instructions. Use with
	// attributes:
	//   attribute.String("kind", ...), attribute.String("disposition", "new"|"updated"|"carried")
	InstructionsExtracted metric.Int64Counter

	// GuardCorrections counts deterministic reconciliation guard
	// interventions. Use with attribute: attribute.String("rule", ...)
	GuardCorrections metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live scribe sessions.
	ActiveSessions metric.Int64UpDownCounter

	// LivingInstructions tracks the size of the living instruction list
	// across active sessions.
	LivingInstructions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized
// for blocking model round-trips.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DiarizationDuration, err = m.Float64Histogram("chartflow.diarization.duration",
		metric.WithDescription("Latency of audio diarization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("chartflow.extraction.duration",
		metric.WithDescription("Latency of instruction extraction, including the correction pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("chartflow.synthesis.duration",
		metric.WithDescription("Latency of per-instruction parameter synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReconciliationDuration, err = m.Float64Histogram("chartflow.reconciliation.duration",
		metric.WithDescription("Latency of questionnaire reconciliation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BackendRequests, err = m.Int64Counter("chartflow.backend.requests",
		metric.WithDescription("Total model backend requests by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("chartflow.backend.errors",
		metric.WithDescription("Total model backend failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.InstructionsExtracted, err = m.Int64Counter("chartflow.instructions.extracted",
		metric.WithDescription("Total extracted instructions by kind and disposition."),
	); err != nil {
		return nil, err
	}
	if met.GuardCorrections, err = m.Int64Counter("chartflow.guard.corrections",
		metric.WithDescription("Total reconciliation guard interventions by rule."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("chartflow.active_sessions",
		metric.WithDescription("Number of live scribe sessions."),
	); err != nil {
		return nil, err
	}
	if met.LivingInstructions, err = m.Int64UpDownCounter("chartflow.living_instructions",
		metric.WithDescription("Size of the living instruction list across sessions."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity
// at call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordBackendRequest records a backend request counter increment with
// the standard attribute set, and the matching error counter when status
// is "error".
func (m *Metrics) RecordBackendRequest(ctx context.Context, stage, status string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		))
	if status == "error" {
		m.BackendErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// SessionStarted marks one scribe session as live.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded marks one scribe session as finished.
func (m *Metrics) SessionEnded(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}

// RecordGuardCorrection records one guard intervention by rule.
func (m *Metrics) RecordGuardCorrection(ctx context.Context, rule string) {
	m.GuardCorrections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("rule", rule)))
}

// RecordInstruction records one extracted instruction by kind and
// disposition.
func (m *Metrics) RecordInstruction(ctx context.Context, kind, disposition string) {
	m.InstructionsExtracted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("disposition", disposition),
		))
}
