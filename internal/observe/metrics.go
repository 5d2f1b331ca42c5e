// Package observe provides application-wide observability primitives for
// Babelroom: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter is wired via [InitProvider] so that metrics can be scraped from the
// standard /metrics endpoint. Room construction takes a *Metrics handle —
// there is no package-level default — so tests create their own instance with
// [NewMetrics] and a private MeterProvider to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Babelroom metrics.
const meterName = "github.com/babelroom/babelroom"

// Metrics holds all OpenTelemetry metric instruments for the relay.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranslateDuration tracks per-target translation latency. Attributes:
	//   attribute.String("lang", ...), attribute.String("provider", ...),
	//   attribute.String("outcome", "success"|"error")
	// Recorded on both the success and failure paths.
	TranslateDuration metric.Float64Histogram

	// SynthesisDuration tracks speech synthesis latency. Attributes:
	//   attribute.String("lang", ...), attribute.Bool("error", ...)
	SynthesisDuration metric.Float64Histogram

	// PatchRejected counts ingress patches that did not advance room state.
	// Attribute: attribute.String("reason", "stale_version"|"only_filler"|"invalid")
	PatchRejected metric.Int64Counter

	// PatchAccepted counts accepted revisions. Attribute:
	//   attribute.String("stage", "soft"|"hard")
	PatchAccepted metric.Int64Counter

	// TTSSkipped counts enqueue attempts the TTS queue refused. Attributes:
	//   attribute.String("reason", "duplicate_version"|"stale_version"|
	//   "already_triggered"|"lang_mismatch"|"too_short"),
	//   attribute.String("lang", ...)
	TTSSkipped metric.Int64Counter

	// SpeedRamp counts speed-curve transitions. Attributes:
	//   attribute.String("direction", "start"|"end"), attribute.String("lang", ...)
	SpeedRamp metric.Int64Counter

	// WatchdogRestarts counts restart advisories sent to speakers.
	WatchdogRestarts metric.Int64Counter

	// ActiveRooms tracks the number of live rooms.
	ActiveRooms metric.Int64UpDownCounter

	// ActiveSubscribers tracks connected subscribers across all rooms.
	ActiveSubscribers metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for translation and synthesis round-trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranslateDuration, err = m.Float64Histogram("babelroom.translate.duration",
		metric.WithDescription("Latency of text translation per target language."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("babelroom.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.PatchRejected, err = m.Int64Counter("babelroom.patch.rejected",
		metric.WithDescription("Ingress patches rejected by reason."),
	); err != nil {
		return nil, err
	}
	if met.PatchAccepted, err = m.Int64Counter("babelroom.patch.accepted",
		metric.WithDescription("Accepted revisions by stage."),
	); err != nil {
		return nil, err
	}
	if met.TTSSkipped, err = m.Int64Counter("babelroom.tts.skipped",
		metric.WithDescription("TTS enqueue attempts refused by reason."),
	); err != nil {
		return nil, err
	}
	if met.SpeedRamp, err = m.Int64Counter("babelroom.tts.speed_ramp",
		metric.WithDescription("Speed-curve ramp transitions."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogRestarts, err = m.Int64Counter("babelroom.watchdog.restarts",
		metric.WithDescription("Restart advisories sent to idle speakers."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRooms, err = m.Int64UpDownCounter("babelroom.rooms.active",
		metric.WithDescription("Number of live rooms."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("babelroom.subscribers.active",
		metric.WithDescription("Connected subscribers across all rooms."),
	); err != nil {
		return nil, err
	}

	return met, nil
}
