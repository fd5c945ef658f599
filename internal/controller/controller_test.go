package controller

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sttgateway/internal/config"
	"github.com/rapidaai/sttgateway/internal/engine/testengine"
	"github.com/rapidaai/sttgateway/internal/obslog"
)

// fakeSocket is an in-memory controller.Socket driven by a test: inbound
// holds frames waiting to be "read" by the receiver, outbound records every
// frame the controller wrote.
type fakeSocket struct {
	mu       sync.Mutex
	inbound  []string
	outbound []map[string]interface{}
	closed   bool
	closeErr error
}

func (f *fakeSocket) pushInbound(frame string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, frame)
}

func (f *fakeSocket) ReadText(ctx context.Context, timeout time.Duration) (string, bool, error) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return "", true, nil
		}
		if len(f.inbound) > 0 {
			frame := f.inbound[0]
			f.inbound = f.inbound[1:]
			f.mu.Unlock()
			return frame, false, nil
		}
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", true, nil
		case <-time.After(5 * time.Millisecond):
		}
	}
	return "", false, nil // simulate a read timeout
}

func (f *fakeSocket) WriteText(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.outbound = append(f.outbound, m)
	return nil
}

func (f *fakeSocket) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeSocket) framesOfType(typ string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, m := range f.outbound {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func envelopeJSON(typ, sessionID, requestID string, payload map[string]interface{}) string {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	data, _ := json.Marshal(map[string]interface{}{
		"type":       typ,
		"session_id": sessionID,
		"request_id": requestID,
		"payload":    payload,
	})
	return string(data)
}

func testSettings() *config.Settings {
	return config.NewSettings(
		config.WithServedModelName("voxtral-realtime"),
		config.WithInboundQueueMax(8),
		config.WithLifecycle(0, 50*time.Millisecond, 0), // idle disabled, no max duration
		config.WithSegmentRolling(false, 25, 2),
	)
}

func TestController_PingPong(t *testing.T) {
	sock := &fakeSocket{}
	sess := New(obslog.NewNop(), testSettings(), sock, testengine.NewFactory(nil), nil)

	sock.pushInbound(envelopeJSON("ping", "sess-1", "unknown", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sock.framesOfType("pong")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestController_EndClosesWithNormalCode(t *testing.T) {
	sock := &fakeSocket{}
	sess := New(obslog.NewNop(), testSettings(), sock, testengine.NewFactory(nil), nil)

	sock.pushInbound(envelopeJSON("end", "sess-1", "unknown", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = sess.Run(ctx)

	require.Len(t, sock.framesOfType("session_end"), 1)
	assert.True(t, sock.closed)
}

func TestController_FullUtterance_EmitsFinalAndDone(t *testing.T) {
	sock := &fakeSocket{}
	sess := New(obslog.NewNop(), testSettings(), sock, testengine.NewFactory(&testengine.Script{
		Tokens: []string{"hi"},
		Final:  "hi",
	}), nil)

	sock.pushInbound(envelopeJSON("input_audio_buffer.commit", "sess-1", "req-1", map[string]interface{}{"final": false}))
	sock.pushInbound(envelopeJSON("input_audio_buffer.append", "sess-1", "req-1", map[string]interface{}{"audio": "AAAAAAAA"}))
	sock.pushInbound(envelopeJSON("input_audio_buffer.commit", "sess-1", "req-1", map[string]interface{}{"final": true}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sock.framesOfType("final")) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(sock.framesOfType("done")) == 1 }, 2*time.Second, 10*time.Millisecond)

	finals := sock.framesOfType("final")
	payload := finals[0]["payload"].(map[string]interface{})
	assert.Equal(t, "hi", payload["normalized_text"])
}

func TestController_CommitFinalWithoutActiveRequestRejected(t *testing.T) {
	sock := &fakeSocket{}
	sess := New(obslog.NewNop(), testSettings(), sock, testengine.NewFactory(nil), nil)

	sock.pushInbound(envelopeJSON("input_audio_buffer.commit", "sess-1", "req-1", map[string]interface{}{"final": true}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sock.framesOfType("error")) == 1 }, time.Second, 5*time.Millisecond)
	errs := sock.framesOfType("error")
	payload := errs[0]["payload"].(map[string]interface{})
	assert.Equal(t, "invalid_payload", payload["code"])
	details := payload["details"].(map[string]interface{})
	assert.Equal(t, "no_active_request", details["reason_code"])
}

func TestController_UnsupportedModelRejected(t *testing.T) {
	sock := &fakeSocket{}
	sess := New(obslog.NewNop(), testSettings(), sock, testengine.NewFactory(nil), nil)

	sock.pushInbound(envelopeJSON("session.update", "sess-1", "req-1", map[string]interface{}{"model": "some-other-model"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sock.framesOfType("error")) == 1 }, time.Second, 5*time.Millisecond)
	errs := sock.framesOfType("error")
	payload := errs[0]["payload"].(map[string]interface{})
	assert.Equal(t, "invalid_payload", payload["code"])
}

func TestController_CancelEmitsCancelledEnvelope(t *testing.T) {
	sock := &fakeSocket{}
	sess := New(obslog.NewNop(), testSettings(), sock, testengine.NewFactory(nil), nil)

	sock.pushInbound(envelopeJSON("input_audio_buffer.commit", "sess-1", "req-1", map[string]interface{}{"final": false}))
	sock.pushInbound(envelopeJSON("cancel", "sess-1", "req-1", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sock.framesOfType("cancelled")) == 1 }, time.Second, 10*time.Millisecond)
	cancelled := sock.framesOfType("cancelled")
	payload := cancelled[0]["payload"].(map[string]interface{})
	assert.Equal(t, "client_request", payload["reason"])
}

func TestController_RateLimitedReportsBoundedRetryIn(t *testing.T) {
	sock := &fakeSocket{}
	settings := config.NewSettings(
		config.WithServedModelName("voxtral-realtime"),
		config.WithInboundQueueMax(8),
		config.WithLifecycle(0, 50*time.Millisecond, 0),
		config.WithSegmentRolling(false, 25, 2),
		config.WithMessageRateLimit(1.0, 1),
	)
	sess := New(obslog.NewNop(), settings, sock, testengine.NewFactory(nil), nil)

	// ping/pong/end bypass the limiters, so use a message type that counts.
	sock.pushInbound(envelopeJSON("session.update", "sess-1", "req-1", nil))
	sock.pushInbound(envelopeJSON("session.update", "sess-1", "req-1", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sock.framesOfType("error")) == 1 }, time.Second, 5*time.Millisecond)

	errs := sock.framesOfType("error")
	payload := errs[0]["payload"].(map[string]interface{})
	details := payload["details"].(map[string]interface{})
	retryIn, ok := details["retry_in"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, retryIn, 0.0)
	assert.LessOrEqual(t, retryIn, 1.0, "retry_in must not exceed the full window")
}

func TestController_InvalidMessageRepliesWithoutClosing(t *testing.T) {
	sock := &fakeSocket{}
	sess := New(obslog.NewNop(), testSettings(), sock, testengine.NewFactory(nil), nil)

	sock.pushInbound(`not json`)
	sock.pushInbound(envelopeJSON("ping", "sess-1", "unknown", nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sock.framesOfType("pong")) == 1 }, time.Second, 10*time.Millisecond)
	assert.Len(t, sock.framesOfType("error"), 1, "the malformed frame should get one error envelope")
	assert.False(t, sock.closed, "a malformed single message must not close the connection")
}
