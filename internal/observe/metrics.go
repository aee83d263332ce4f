// Package observe provides application-wide observability primitives for
// Souffleur: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Souffleur metrics.
const meterName = "github.com/souffleur-ai/souffleur"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// AgentRoundDuration tracks one full agent round (model call plus any
	// tool loop) from dispatch to filtered output.
	AgentRoundDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Dispatches counts agent dispatches. Use with attribute:
	//   attribute.String("trigger", "policy"|"flush")
	Dispatches metric.Int64Counter

	// InsightsEmitted counts insights that passed the output guard and were
	// pushed to the advisor.
	InsightsEmitted metric.Int64Counter

	// InsightsSuppressed counts model outputs collapsed to silence. Use with
	// attribute: attribute.String("reason", ...)
	InsightsSuppressed metric.Int64Counter

	// AgentErrors counts failed agent rounds (model transport failures).
	AgentErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live advisory sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Agent
// rounds are model-bound and routinely take seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AgentRoundDuration, err = m.Float64Histogram("souffleur.agent.round.duration",
		metric.WithDescription("Latency of one agent round from dispatch to filtered output."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("souffleur.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Dispatches, err = m.Int64Counter("souffleur.dispatches",
		metric.WithDescription("Total agent dispatches by trigger."),
	); err != nil {
		return nil, err
	}
	if met.InsightsEmitted, err = m.Int64Counter("souffleur.insights.emitted",
		metric.WithDescription("Total insights pushed to the advisor."),
	); err != nil {
		return nil, err
	}
	if met.InsightsSuppressed, err = m.Int64Counter("souffleur.insights.suppressed",
		metric.WithDescription("Total model outputs collapsed to silence, by reason."),
	); err != nil {
		return nil, err
	}
	if met.AgentErrors, err = m.Int64Counter("souffleur.agent.errors",
		metric.WithDescription("Total failed agent rounds."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("souffleur.active_sessions",
		metric.WithDescription("Number of live advisory sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("souffleur.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDispatch records an agent dispatch with its trigger ("policy" for a
// policy-gated dispatch, "flush" for the forced dispatch at session stop).
func (m *Metrics) RecordDispatch(ctx context.Context, trigger string) {
	m.Dispatches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", trigger)),
	)
}

// RecordAgentRound records the duration of one agent round and counts a
// failure when err is non-nil.
func (m *Metrics) RecordAgentRound(ctx context.Context, d time.Duration, err error) {
	m.AgentRoundDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.AgentErrors.Add(ctx, 1)
	}
}

// RecordInsight counts an insight pushed to the advisor.
func (m *Metrics) RecordInsight(ctx context.Context) {
	m.InsightsEmitted.Add(ctx, 1)
}

// RecordSuppressed counts a model output collapsed to silence.
func (m *Metrics) RecordSuppressed(ctx context.Context, reason string) {
	m.InsightsSuppressed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordToolExecution records a tool execution with its outcome.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, d time.Duration, status string) {
	m.ToolExecutionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
