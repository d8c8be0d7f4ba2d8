// Package observe provides application-wide observability primitives for the
// endpointing daemon: OpenTelemetry metrics and the provider wiring that
// exposes them for Prometheus scraping.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up via [InitProvider] so that metrics are scraped
// from the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all daemon metrics.
const meterName = "github.com/atoroc/res-speech-gdfe"

// Metrics holds all OpenTelemetry metric instruments for the daemon.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// FramesProcessed counts audio frames pushed through the endpointing
	// path.
	FramesProcessed metric.Int64Counter

	// AudioMilliseconds counts processed caller audio time.
	AudioMilliseconds metric.Int64Counter

	// SpeechTransitions counts committed endpointing transitions. Use with
	// attribute: attribute.String("transition", "speech_start"|"speech_end")
	SpeechTransitions metric.Int64Counter

	// Utterances counts recognition attempts started.
	Utterances metric.Int64Counter

	// BackendErrors counts backend failures. Use with attribute:
	//   attribute.String("stage", "start"|"write"|"stop"|"event")
	BackendErrors metric.Int64Counter

	// RecordingFailures counts call log and audio recording failures.
	RecordingFailures metric.Int64Counter

	// --- Histograms ---

	// UtteranceDuration tracks the audio length of each utterance from
	// declared speech start to declared speech end.
	UtteranceDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter
}

// utteranceBuckets defines histogram bucket boundaries (in seconds) sized for
// spoken utterances.
var utteranceBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("gdfe.audio.frames",
		metric.WithDescription("Total audio frames pushed through endpointing."),
	); err != nil {
		return nil, err
	}
	if met.AudioMilliseconds, err = m.Int64Counter("gdfe.audio.milliseconds",
		metric.WithDescription("Total caller audio time processed."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if met.SpeechTransitions, err = m.Int64Counter("gdfe.endpointer.transitions",
		metric.WithDescription("Committed endpointing transitions by kind."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("gdfe.utterances",
		metric.WithDescription("Recognition attempts started."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("gdfe.backend.errors",
		metric.WithDescription("Backend failures by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.RecordingFailures, err = m.Int64Counter("gdfe.recording.failures",
		metric.WithDescription("Call log and audio recording failures."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.UtteranceDuration, err = m.Float64Histogram("gdfe.utterance.duration",
		metric.WithDescription("Audio length of each declared utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("gdfe.active_calls",
		metric.WithDescription("Number of live calls."),
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

// RecordTransition records a committed endpointing transition.
func (m *Metrics) RecordTransition(ctx context.Context, transition string) {
	m.SpeechTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("transition", transition)),
	)
}

// RecordBackendError records a backend failure for the given pipeline stage.
func (m *Metrics) RecordBackendError(ctx context.Context, stage string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
