// Package observe provides application-wide observability primitives for
// endpointd: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served by [Handler] so
// that metrics can be scraped from /metrics. A package-level default
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

// meterName is the instrumentation scope name used for all endpointd metrics.
const meterName = "github.com/MrWong99/endpointd"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// RecognitionDuration tracks how long an utterance hand-off takes, from
	// Recognize until the backend returns (or fails).
	RecognitionDuration metric.Float64Histogram

	// UtteranceBytes tracks the size of buffered speech handed to backends.
	UtteranceBytes metric.Int64Histogram

	// DetectorEvents counts non-empty detector events. Use with attribute:
	//   attribute.String("event", ...)
	DetectorEvents metric.Int64Counter

	// Completions counts RECOGNITION-COMPLETE notifications. Use with attribute:
	//   attribute.String("cause", ...)
	Completions metric.Int64Counter

	// ProviderRequests counts recognition backend calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts recognition backend errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// ActiveChannels tracks the number of open recognizer channels.
	ActiveChannels metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// recognition round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utteranceBuckets covers empty hand-offs up to the 16000 byte span cap plus
// one boundary frame.
var utteranceBuckets = []float64{
	0, 1600, 3200, 6400, 9600, 12800, 16000, 17600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RecognitionDuration, err = m.Float64Histogram("endpointd.recognition.duration",
		metric.WithDescription("Latency of asynchronous utterance recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceBytes, err = m.Int64Histogram("endpointd.utterance.size",
		metric.WithDescription("Buffered speech bytes handed to recognition."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}

	if met.DetectorEvents, err = m.Int64Counter("endpointd.detector.events",
		metric.WithDescription("Endpointing events raised by event type."),
	); err != nil {
		return nil, err
	}
	if met.Completions, err = m.Int64Counter("endpointd.recognition.completions",
		metric.WithDescription("Recognition completions by completion cause."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("endpointd.provider.requests",
		metric.WithDescription("Recognition backend requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("endpointd.provider.errors",
		metric.WithDescription("Recognition backend errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("endpointd.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions by provider and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveChannels, err = m.Int64UpDownCounter("endpointd.active_channels",
		metric.WithDescription("Number of open recognizer channels."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("endpointd.http.request.duration",
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

// RecordProviderRequest records one recognition backend call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one recognition backend error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordDetectorEvent records one non-empty endpointing event.
func (m *Metrics) RecordDetectorEvent(ctx context.Context, event string) {
	m.DetectorEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordCompletion records one RECOGNITION-COMPLETE with its cause.
func (m *Metrics) RecordCompletion(ctx context.Context, cause string) {
	m.Completions.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

// RecordBreakerTransition records a circuit breaker entering state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("to", to),
		),
	)
}
