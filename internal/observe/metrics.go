// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]; [Handler] serves them on /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
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

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Recognition ---

	// RecognitionSessions counts listening sessions. Attributes:
	//   backend, status ("started" or "failed")
	RecognitionSessions metric.Int64Counter

	// RecognitionResults counts results delivered to the engine. Attributes:
	//   backend, final ("true"/"false")
	RecognitionResults metric.Int64Counter

	// RecognitionErrors counts recognition failures. Attributes:
	//   backend, kind
	RecognitionErrors metric.Int64Counter

	// ActiveSessions tracks the number of listening sessions in progress.
	ActiveSessions metric.Int64UpDownCounter

	// --- Synthesis ---

	// SynthesisUtterances counts Speak calls by outcome. Attributes:
	//   backend, status ("ok", "error", "fallback")
	SynthesisUtterances metric.Int64Counter

	// SynthesisFallbacks counts fallback attempts. Attributes:
	//   from, to, status
	SynthesisFallbacks metric.Int64Counter

	// SynthesisErrors counts synthesis failures. Attributes:
	//   backend, kind
	SynthesisErrors metric.Int64Counter

	// SynthesisDuration tracks how long Speak blocks, from call to terminal
	// event.
	SynthesisDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, path, status
	HTTPRequestDuration metric.Float64Histogram
}

// utteranceBuckets defines histogram bucket boundaries (in seconds) for
// spoken utterances, which run from sub-second acknowledgements to long
// narration.
var utteranceBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RecognitionSessions, err = m.Int64Counter("parley.recognition.sessions",
		metric.WithDescription("Listening sessions by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionResults, err = m.Int64Counter("parley.recognition.results",
		metric.WithDescription("Recognition results by backend and finality."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("parley.recognition.errors",
		metric.WithDescription("Recognition errors by backend and kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.recognition.active_sessions",
		metric.WithDescription("Number of listening sessions in progress."),
	); err != nil {
		return nil, err
	}

	if met.SynthesisUtterances, err = m.Int64Counter("parley.synthesis.utterances",
		metric.WithDescription("Utterances by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisFallbacks, err = m.Int64Counter("parley.synthesis.fallbacks",
		metric.WithDescription("Synthesis fallback attempts by source, target and status."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisErrors, err = m.Int64Counter("parley.synthesis.errors",
		metric.WithDescription("Synthesis errors by backend and kind."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("parley.synthesis.duration",
		metric.WithDescription("Time Speak blocks for an utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordRecognitionSession counts a StartListening outcome and, on success,
// increments the active session gauge.
func (m *Metrics) RecordRecognitionSession(ctx context.Context, backend, status string) {
	m.RecognitionSessions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	))
	if status == "started" {
		m.ActiveSessions.Add(ctx, 1)
	}
}

// RecordRecognitionEnded decrements the active session gauge.
func (m *Metrics) RecordRecognitionEnded(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}

// RecordRecognitionResult counts one result.
func (m *Metrics) RecordRecognitionResult(ctx context.Context, backend string, final bool) {
	f := "false"
	if final {
		f = "true"
	}
	m.RecognitionResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("final", f),
	))
}

// RecordRecognitionError counts one recognition failure.
func (m *Metrics) RecordRecognitionError(ctx context.Context, backend, kind string) {
	m.RecognitionErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("kind", kind),
	))
}

// RecordUtterance counts a Speak outcome and records its duration.
func (m *Metrics) RecordUtterance(ctx context.Context, backend, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	)
	m.SynthesisUtterances.Add(ctx, 1, attrs)
	m.SynthesisDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFallback counts a fallback attempt.
func (m *Metrics) RecordFallback(ctx context.Context, from, to, status string) {
	m.SynthesisFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("status", status),
	))
}

// RecordSynthesisError counts one synthesis failure.
func (m *Metrics) RecordSynthesisError(ctx context.Context, backend, kind string) {
	m.SynthesisErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("kind", kind),
	))
}
