package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilMeterIsNoOp(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.ConnectionAdmitted(ctx)
		m.ConnectionRejected(ctx, "server_at_capacity")
		m.MessageReceived(ctx, "ping")
		m.OverloadDrop(ctx, "pending_buffer")
		m.SegmentRoll(ctx)
		m.UtteranceAudioBytes(ctx, 1024)
	})
}

func TestMetrics_NilReceiverIsNoOp(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.ConnectionAdmitted(ctx)
		m.ConnectionRejected(ctx, "authentication_failed")
		m.MessageReceived(ctx, "cancel")
		m.OverloadDrop(ctx, "vllm_audio_queue")
		m.SegmentRoll(ctx)
		m.UtteranceAudioBytes(ctx, 0)
	})
}
