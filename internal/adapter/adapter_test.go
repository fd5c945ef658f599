package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sttgateway/internal/config"
	"github.com/rapidaai/sttgateway/internal/engine"
	"github.com/rapidaai/sttgateway/internal/engine/testengine"
	"github.com/rapidaai/sttgateway/internal/obslog"
)

type fakeWriterCallbacks struct {
	mu            sync.Mutex
	suppressCalls int
	statuses      []string
}

func (f *fakeWriterCallbacks) SuppressNextDone() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suppressCalls++
}

func (f *fakeWriterCallbacks) SendStatus(ctx context.Context, kind, source string, dropped, max float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, source)
	return nil
}

func (f *fakeWriterCallbacks) ResetAssembler() {}

type recordingWriter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingWriter) SendText(ctx context.Context, raw string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, raw)
	return nil
}

func newTestAdapter(t *testing.T, settings *config.Settings) (*Adapter, *fakeWriterCallbacks) {
	t.Helper()
	factory := testengine.NewFactory(nil)
	w := &fakeWriterCallbacks{}
	rw := &recordingWriter{}

	sess, err := factory.Open(context.Background(), rw)
	require.NoError(t, err)

	return New(obslog.NewNop(), settings, sess, w, nil), w
}

func testSettings() *config.Settings {
	return config.NewSettings(
		config.WithSegmentRolling(true, 1.0, 0.2),
		config.WithBacklogLimits(8.0, 8.0),
		config.WithEngineContextWindow(8192, 512),
		config.WithSegmentGenerationTimeout(2*time.Second),
	)
}

func TestAdapter_EnsureInitializedIsIdempotent(t *testing.T) {
	a, _ := newTestAdapter(t, testSettings())

	require.NoError(t, a.EnsureInitialized(context.Background()))
	require.NoError(t, a.EnsureInitialized(context.Background()))
	require.NoError(t, a.EnsureInitialized(context.Background()))
	// No observable assertion beyond "doesn't error twice"; the engine
	// fake would reject a second session.update only if we made it
	// stateful about that, so this exercises the adapter's own guard.
}

func TestAdapter_AppendEstimatesBytesWithoutBackpressure(t *testing.T) {
	a, w := newTestAdapter(t, testSettings())

	require.NoError(t, a.HandleCommitStart(context.Background()))
	require.NoError(t, a.HandleAppend(context.Background(), "AAAA")) // 4 chars, no padding -> 3 bytes
	require.Empty(t, w.statuses)
}

func TestAdapter_FinalCloseDrainsAndCompletes(t *testing.T) {
	a, _ := newTestAdapter(t, testSettings())

	require.NoError(t, a.HandleCommitStart(context.Background()))
	require.NoError(t, a.HandleAppend(context.Background(), "AAAAAAAA"))
	a.HandleCommitFinal()

	assert.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return !a.active
	}, time.Second, 10*time.Millisecond, "final close should mark the utterance inactive")

	assert.True(t, a.queue.Empty(), "final close should drain the tracked audio queue")
}

func TestAdapter_CancelResetsStateAndCallsCleanup(t *testing.T) {
	a, _ := newTestAdapter(t, testSettings())

	require.NoError(t, a.HandleCommitStart(context.Background()))
	require.NoError(t, a.HandleAppend(context.Background(), "AAAA"))

	require.NoError(t, a.Cancel(context.Background()))

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.False(t, a.active)
	assert.Empty(t, a.pending)
	assert.Equal(t, 0, a.pendingBytes)
}

func TestAdapter_PendingBacklogShedsOldestAndReportsStatus(t *testing.T) {
	settings := config.NewSettings(
		config.WithSegmentRolling(false, 25, 2),
		config.WithBacklogLimits(8.0, 0.001), // tiny pending budget forces immediate shedding
		config.WithEngineContextWindow(8192, 512),
	)
	a, w := newTestAdapter(t, settings)

	require.NoError(t, a.HandleCommitStart(context.Background()))
	for i := 0; i < 5; i++ {
		require.NoError(t, a.HandleAppend(context.Background(), "AAAAAAAAAAAAAAAA"))
	}

	assert.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		for _, s := range w.statuses {
			if s == "pending_buffer" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestAdapter_EngineQueueBacklogShedsOldestAndReportsStatus(t *testing.T) {
	settings := config.NewSettings(
		config.WithSegmentRolling(false, 25, 2),
		config.WithBacklogLimits(0.0001, 8.0), // tiny engine-queue budget forces a drop on the tracked queue
		config.WithEngineContextWindow(8192, 512),
	)
	a, w := newTestAdapter(t, settings)

	require.NoError(t, a.HandleCommitStart(context.Background()))
	for i := 0; i < 5; i++ {
		require.NoError(t, a.HandleAppend(context.Background(), "AAAAAAAAAAAAAAAA"))
	}

	assert.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		for _, s := range w.statuses {
			if s == "vllm_audio_queue" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

var _ engine.Writer = (*recordingWriter)(nil)
