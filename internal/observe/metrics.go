// Package observe provides the observability primitives shared by the
// assistant: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]; [Handler] serves them on /metrics. A
// package-level [DefaultMetrics] instance is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/lumo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks language-backend latency.
	LLMDuration metric.Float64Histogram

	// ActionDuration tracks action handler latency. Use with attribute:
	//   attribute.String("action", ...)
	ActionDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts logged interactions. Use with attributes:
	//   attribute.String("outcome", ...), attribute.String("source", ...)
	Turns metric.Int64Counter

	// WakeDetections counts wake phrase detections. Use with attribute:
	//   attribute.String("source", "voice"|"text")
	WakeDetections metric.Int64Counter

	// Confirmations counts how confirmation requests end. Use with attribute:
	//   attribute.String("result", "accepted"|"rejected"|"timeout"|"invalid")
	Confirmations metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with attributes:
	//   attribute.String("breaker", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// PendingConfirmations is 1 while the gate awaits an answer.
	PendingConfirmations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// transcription and backend latencies, which run from tens of milliseconds
// to several seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.STTDuration, err = histogram("lumo.stt.duration", "Latency of speech transcription."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("lumo.llm.duration", "Latency of the language backend."); err != nil {
		return nil, err
	}
	if met.ActionDuration, err = histogram("lumo.action.duration", "Latency of action handlers."); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("lumo.turns",
		metric.WithDescription("Logged interactions by outcome and source."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("lumo.wake.detections",
		metric.WithDescription("Wake phrase detections by source."),
	); err != nil {
		return nil, err
	}
	if met.Confirmations, err = m.Int64Counter("lumo.confirmations",
		metric.WithDescription("Confirmation requests by how they ended."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("lumo.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("lumo.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("lumo.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("lumo.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and new state."),
	); err != nil {
		return nil, err
	}
	if met.PendingConfirmations, err = m.Int64UpDownCounter("lumo.confirmations.pending",
		metric.WithDescription("Confirmation requests currently awaiting an answer."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("lumo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn counts one logged interaction.
func (m *Metrics) RecordTurn(ctx context.Context, outcome, source string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome), Attr("source", source)))
}

// RecordWake counts one wake phrase detection.
func (m *Metrics) RecordWake(ctx context.Context, source string) {
	m.WakeDetections.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
}

// RecordConfirmation counts how a confirmation request ended.
func (m *Metrics) RecordConfirmation(ctx context.Context, result string) {
	m.Confirmations.Add(ctx, 1, metric.WithAttributes(Attr("result", result)))
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind), Attr("status", status)),
	)
}

// RecordToolCall records an MCP tool call with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(Attr("tool", tool), Attr("status", status)),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)),
	)
}

// RecordBreakerTransition records a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(Attr("breaker", breaker), Attr("state", state)),
	)
}
