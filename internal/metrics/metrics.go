// Package metrics wraps the optional OpenTelemetry metrics surface. Every
// recorder is nil-safe: a Metrics built with a nil meter (or never built at
// all) silently no-ops, so instrumentation can be wired everywhere without
// conditional checks at call sites.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the gateway's counters and histograms. A zero-value
// *Metrics (or one built from a nil meter) has all nil instruments and
// every method becomes a no-op.
type Metrics struct {
	connectionsAdmitted metric.Int64Counter
	connectionsRejected metric.Int64Counter
	messagesReceived    metric.Int64Counter
	overloadDrops       metric.Int64Counter
	segmentRolls        metric.Int64Counter
	utteranceAudioBytes metric.Int64Histogram
}

// New builds a Metrics instance from an otel meter. Pass nil to disable
// metrics entirely (e.g. in tests).
func New(meter metric.Meter) *Metrics {
	if meter == nil {
		return &Metrics{}
	}

	m := &Metrics{}
	m.connectionsAdmitted, _ = meter.Int64Counter("sttgateway.connections.admitted")
	m.connectionsRejected, _ = meter.Int64Counter("sttgateway.connections.rejected")
	m.messagesReceived, _ = meter.Int64Counter("sttgateway.messages.received")
	m.overloadDrops, _ = meter.Int64Counter("sttgateway.overload_drops")
	m.segmentRolls, _ = meter.Int64Counter("sttgateway.segment_rolls")
	m.utteranceAudioBytes, _ = meter.Int64Histogram("sttgateway.utterance.audio_bytes")
	return m
}

func (m *Metrics) ConnectionAdmitted(ctx context.Context) {
	if m == nil || m.connectionsAdmitted == nil {
		return
	}
	m.connectionsAdmitted.Add(ctx, 1)
}

func (m *Metrics) ConnectionRejected(ctx context.Context, reason string) {
	if m == nil || m.connectionsRejected == nil {
		return
	}
	m.connectionsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) MessageReceived(ctx context.Context, msgType string) {
	if m == nil || m.messagesReceived == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

func (m *Metrics) OverloadDrop(ctx context.Context, source string) {
	if m == nil || m.overloadDrops == nil {
		return
	}
	m.overloadDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) SegmentRoll(ctx context.Context) {
	if m == nil || m.segmentRolls == nil {
		return
	}
	m.segmentRolls.Add(ctx, 1)
}

func (m *Metrics) UtteranceAudioBytes(ctx context.Context, n int64) {
	if m == nil || m.utteranceAudioBytes == nil {
		return
	}
	m.utteranceAudioBytes.Record(ctx, n)
}
