// Package metrics provides the OpenTelemetry instruments recorded by the
// audio core and the live session.
//
// Tests should use [NewMetrics] with a custom [metric.MeterProvider]; code
// that is handed a nil *Metrics falls back to [Discard].
package metrics

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/pteprep/livevoice"

// Metrics holds all metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// FramesCaptured counts microphone frames delivered to a sink.
	FramesCaptured metric.Int64Counter

	// FrameErrors counts frames a sink rejected. Use with attribute:
	//   attribute.String("stage", ...)
	FrameErrors metric.Int64Counter

	// PacketsReceived counts inbound model audio packets.
	PacketsReceived metric.Int64Counter

	// DecodeErrors counts inbound packets that failed to decode.
	DecodeErrors metric.Int64Counter

	// ChunksScheduled counts buffers handed to the playback scheduler.
	ChunksScheduled metric.Int64Counter

	// Interruptions counts barge-in events.
	Interruptions metric.Int64Counter

	// Turns counts finalized conversation turns.
	Turns metric.Int64Counter

	// TransportErrors counts fatal transport failures.
	TransportErrors metric.Int64Counter

	// Recordings counts completed one-shot recordings.
	Recordings metric.Int64Counter

	// ActiveSessions tracks open live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionDuration tracks how long live sessions stayed open.
	SessionDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech request latency.
	TTSDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900,
}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("livevoice.capture.frames",
		metric.WithDescription("Microphone frames delivered to a sink."),
	); err != nil {
		return nil, err
	}
	if met.FrameErrors, err = m.Int64Counter("livevoice.capture.frame_errors",
		metric.WithDescription("Microphone frames a sink failed to accept."),
	); err != nil {
		return nil, err
	}
	if met.PacketsReceived, err = m.Int64Counter("livevoice.live.packets",
		metric.WithDescription("Inbound model audio packets."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("livevoice.live.decode_errors",
		metric.WithDescription("Inbound audio packets that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("livevoice.playback.chunks",
		metric.WithDescription("Buffers scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("livevoice.live.interruptions",
		metric.WithDescription("Barge-in interruptions."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("livevoice.live.turns",
		metric.WithDescription("Finalized conversation turns."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("livevoice.live.transport_errors",
		metric.WithDescription("Fatal transport failures."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("livevoice.capture.recordings",
		metric.WithDescription("Completed one-shot recordings."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("livevoice.live.active_sessions",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("livevoice.live.session.duration",
		metric.WithDescription("Time a live session stayed open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("livevoice.tts.duration",
		metric.WithDescription("Latency of text-to-speech requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once

	discard     *Metrics
	discardOnce sync.Once
)

// Default returns the package-level instance backed by the global
// OpenTelemetry meter provider. Panics if instrument creation fails.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Discard returns instruments that record nothing.
func Discard() *Metrics {
	discardOnce.Do(func() {
		discard, _ = NewMetrics(noop.NewMeterProvider())
	})
	return discard
}

// OrDiscard returns m, or [Discard] when m is nil.
func OrDiscard(m *Metrics) *Metrics {
	if m == nil {
		return Discard()
	}
	return m
}
