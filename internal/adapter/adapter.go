// Package adapter implements the engine adapter: per-session audio
// buffering, segment rolling with overlap, backlog shedding, and the
// feeder task that drives the engine-facing tracked audio queue (spec
// component F). This is the gateway's main contribution.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/sttgateway/internal/audioqueue"
	"github.com/rapidaai/sttgateway/internal/audioutil"
	"github.com/rapidaai/sttgateway/internal/config"
	"github.com/rapidaai/sttgateway/internal/engine"
	"github.com/rapidaai/sttgateway/internal/metrics"
	"github.com/rapidaai/sttgateway/internal/obslog"
)

// WriterCallbacks is the narrow surface the adapter needs from the
// envelope writer (see internal/writer.Callbacks) — keeps the adapter from
// depending on the full writer type.
type WriterCallbacks interface {
	SuppressNextDone()
	SendStatus(ctx context.Context, kind, source string, droppedSeconds, maxBacklogSeconds float64) error
	ResetAssembler()
}

type pendingItem struct {
	audio        string
	decodedBytes int
}

// Adapter owns one session's utterance buffering and feeder task. It is
// the session's exclusive owner of its feeder goroutine and tracked audio
// queue (spec §3), but its own fields are still mutex-guarded since the
// feeder goroutine and externally-invoked methods (from the processor)
// run concurrently with each other.
type Adapter struct {
	logger   obslog.Logger
	settings *config.Settings
	session  engine.Session
	writer   WriterCallbacks
	metrics  *metrics.Metrics

	mu               sync.Mutex
	initialized      bool
	active           bool
	finalizeRequested bool
	closingSegment   bool
	segmentBytesSent int
	pending          []pendingItem
	pendingBytes     int
	overlapRing      []pendingItem
	overlapBytes     int

	queue  *audioqueue.Queue
	wakeCh chan struct{}

	feederStarted bool
	feederDone    chan struct{}
	cancelFeeder  context.CancelFunc
}

// New builds an Adapter bound to one session's engine session and writer
// callback surface. m may be nil; every recorder on a nil *metrics.Metrics
// is a no-op.
func New(logger obslog.Logger, settings *config.Settings, sess engine.Session, w WriterCallbacks, m *metrics.Metrics) *Adapter {
	return &Adapter{
		logger:   logger,
		settings: settings,
		session:  sess,
		writer:   w,
		metrics:  m,
		queue:    audioqueue.New(config.SampleRateHz),
		wakeCh:   make(chan struct{}, 1),
	}
}

func (a *Adapter) wake() {
	select {
	case a.wakeCh <- struct{}{}:
	default:
	}
}

// EnsureInitialized forwards session.update exactly once, idempotently.
func (a *Adapter) EnsureInitialized(ctx context.Context) error {
	a.mu.Lock()
	if a.initialized {
		a.mu.Unlock()
		return nil
	}
	a.initialized = true
	a.mu.Unlock()

	return a.session.Send(ctx, engine.Event{
		Type:   "session.update",
		Fields: map[string]interface{}{"model": a.settings.ServedModelName},
	})
}

// HandleSessionUpdate forwards a client session.update as-is.
func (a *Adapter) HandleSessionUpdate(ctx context.Context, fields map[string]interface{}) error {
	return a.session.Send(ctx, engine.Event{Type: "session.update", Fields: fields})
}

// HandleCommitStart processes a commit(final=false): resets buffers and the
// writer's transcript assembly, marks the utterance active, ensures the
// feeder task, and forwards the start.
func (a *Adapter) HandleCommitStart(ctx context.Context) error {
	a.writer.ResetAssembler()

	a.mu.Lock()
	a.pending = nil
	a.pendingBytes = 0
	a.overlapRing = nil
	a.overlapBytes = 0
	a.segmentBytesSent = 0
	a.active = true
	a.finalizeRequested = false
	a.closingSegment = false
	a.mu.Unlock()

	a.ensureFeeder(ctx)
	a.wake()

	return a.session.Send(ctx, engine.Event{
		Type:   "input_audio_buffer.commit",
		Fields: map[string]interface{}{"final": false},
	})
}

// HandleCommitFinal marks finalize requested; the actual engine
// commit(final=true) is emitted by the feeder once pending drains.
func (a *Adapter) HandleCommitFinal() {
	a.mu.Lock()
	a.finalizeRequested = true
	a.mu.Unlock()
	a.wake()
}

// HandleAppend estimates the decoded byte length of a base64 audio chunk,
// appends it to the pending buffer, sheds backlog if over budget, and
// wakes the feeder.
func (a *Adapter) HandleAppend(ctx context.Context, audioB64 string) error {
	decoded := audioutil.EstimateDecodedBytes(audioB64)

	a.mu.Lock()
	a.pending = append(a.pending, pendingItem{audio: audioB64, decodedBytes: decoded})
	a.pendingBytes += decoded

	maxBacklogBytes := int(a.settings.PendingBacklogSeconds * config.BytesPerSecond)
	var droppedBytes int
	if maxBacklogBytes > 0 {
		for a.pendingBytes > maxBacklogBytes && len(a.pending) > 0 {
			head := a.pending[0]
			a.pending = a.pending[1:]
			a.pendingBytes -= head.decodedBytes
			droppedBytes += head.decodedBytes
		}
		if a.pendingBytes < 0 {
			a.pendingBytes = 0
		}
	}
	a.mu.Unlock()

	a.wake()

	if droppedBytes > 0 {
		droppedSeconds := float64(droppedBytes) / config.BytesPerSecond
		a.metrics.OverloadDrop(ctx, "pending_buffer")
		return a.writer.SendStatus(ctx, "overload_drop", "pending_buffer", droppedSeconds, a.settings.PendingBacklogSeconds)
	}
	return nil
}

// Cancel best-effort stops the feeder, resets buffers, drains the tracked
// audio queue, and invokes the engine's cleanup. A cleanup failure is logged
// at debug and not returned. Idempotent.
func (a *Adapter) Cancel(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancelFeeder
	a.cancelFeeder = nil
	a.feederStarted = false
	a.active = false
	a.finalizeRequested = false
	a.closingSegment = false
	a.pending = nil
	a.pendingBytes = 0
	a.overlapRing = nil
	a.overlapBytes = 0
	a.segmentBytesSent = 0
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	a.drainQueue()

	if err := a.session.Cleanup(ctx); err != nil {
		a.logger.Debugw("adapter: engine cleanup failed", "error", err)
	}
	return nil
}

func (a *Adapter) ensureFeeder(ctx context.Context) {
	a.mu.Lock()
	if a.feederStarted {
		a.mu.Unlock()
		return
	}
	a.feederStarted = true
	feederCtx, cancel := context.WithCancel(context.Background())
	a.cancelFeeder = cancel
	a.feederDone = make(chan struct{})
	a.mu.Unlock()

	go a.runFeeder(feederCtx)
}

func (a *Adapter) runFeeder(ctx context.Context) {
	defer close(a.feederDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wakeCh:
		}

		for {
			if ctx.Err() != nil {
				return
			}

			a.mu.Lock()
			active := a.active
			closing := a.closingSegment
			a.mu.Unlock()

			if !active {
				break
			}
			if closing {
				break
			}

			a.mu.Lock()
			hasPending := len(a.pending) > 0
			a.mu.Unlock()

			if hasPending {
				if err := a.feedOnePending(ctx); err != nil {
					a.logger.Warnw("adapter: feeder append failed", "error", err)
					return
				}
				a.checkEngineQueueBacklog(ctx)

				a.mu.Lock()
				shouldRoll := a.settings.STTInternalRoll && !a.finalizeRequested &&
					a.segmentBytesSent >= a.settings.SegmentTargetBytes()
				a.mu.Unlock()

				if shouldRoll {
					if err := a.rollSegment(ctx); err != nil {
						a.logger.Warnw("adapter: segment roll failed", "error", err)
						return
					}
				}
				continue
			}

			a.mu.Lock()
			finalize := a.finalizeRequested
			a.mu.Unlock()
			if finalize {
				if err := a.finalClose(ctx); err != nil {
					a.logger.Warnw("adapter: final close failed", "error", err)
				}
				break
			}

			break
		}
	}
}

func (a *Adapter) feedOnePending(ctx context.Context) error {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	item := a.pending[0]
	a.pending = a.pending[1:]
	a.pendingBytes -= item.decodedBytes
	if a.pendingBytes < 0 {
		a.pendingBytes = 0
	}
	a.mu.Unlock()

	if err := a.session.Send(ctx, engine.Event{
		Type:   "input_audio_buffer.append",
		Fields: map[string]interface{}{"audio": item.audio},
	}); err != nil {
		return err
	}

	if samples, ok := audioutil.DecodePCM16Samples(item.audio); ok {
		a.queue.Put(samples)
	}

	a.mu.Lock()
	a.segmentBytesSent += item.decodedBytes
	a.pushOverlapLocked(item)
	a.mu.Unlock()

	return nil
}

// drainQueue empties the tracked audio queue, discarding every chunk still
// queued for the engine. Used at segment/utterance boundaries once the
// engine has confirmed it finished generating against everything fed so
// far, and on Cancel.
func (a *Adapter) drainQueue() {
	for {
		if _, ok := a.queue.TryGet(); !ok {
			break
		}
	}
}

// pushOverlapLocked must be called with a.mu held.
func (a *Adapter) pushOverlapLocked(item pendingItem) {
	a.overlapRing = append(a.overlapRing, item)
	a.overlapBytes += item.decodedBytes

	target := a.settings.OverlapTargetBytes()
	for target > 0 && a.overlapBytes > target && len(a.overlapRing) > 0 {
		head := a.overlapRing[0]
		a.overlapRing = a.overlapRing[1:]
		a.overlapBytes -= head.decodedBytes
	}
	if a.overlapBytes < 0 {
		a.overlapBytes = 0
	}
}

func (a *Adapter) checkEngineQueueBacklog(ctx context.Context) {
	dropped := a.queue.DropOldestToMaxBacklog(a.settings.STTMaxBacklogSeconds)
	if dropped <= 0 {
		return
	}
	a.metrics.OverloadDrop(ctx, "vllm_audio_queue")
	if err := a.writer.SendStatus(ctx, "overload_drop", "vllm_audio_queue", dropped, a.settings.STTMaxBacklogSeconds); err != nil {
		a.logger.Warnw("adapter: failed to emit overload status", "error", err)
	}
}

// rollSegment implements spec 4.F.3: suppress the writer's next
// segment-terminating emission, commit(final=true), await completion,
// start a fresh segment, and replay the overlap ring.
func (a *Adapter) rollSegment(ctx context.Context) error {
	a.mu.Lock()
	a.closingSegment = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.closingSegment = false
		a.mu.Unlock()
	}()

	a.metrics.SegmentRoll(ctx)
	a.writer.SuppressNextDone()

	if err := a.session.Send(ctx, engine.Event{
		Type:   "input_audio_buffer.commit",
		Fields: map[string]interface{}{"final": true},
	}); err != nil {
		return err
	}

	if err := a.awaitGenerationDone(ctx); err != nil {
		return err
	}
	a.drainQueue()

	a.mu.Lock()
	a.segmentBytesSent = 0
	a.mu.Unlock()

	if err := a.session.Send(ctx, engine.Event{
		Type:   "input_audio_buffer.commit",
		Fields: map[string]interface{}{"final": false},
	}); err != nil {
		return err
	}

	a.mu.Lock()
	replay := append([]pendingItem(nil), a.overlapRing...)
	a.mu.Unlock()

	for _, item := range replay {
		if err := a.session.Send(ctx, engine.Event{
			Type:   "input_audio_buffer.append",
			Fields: map[string]interface{}{"audio": item.audio},
		}); err != nil {
			return err
		}
		a.mu.Lock()
		a.segmentBytesSent += item.decodedBytes
		a.mu.Unlock()
	}

	return nil
}

// finalClose implements spec 4.F.4.
func (a *Adapter) finalClose(ctx context.Context) error {
	if err := a.session.Send(ctx, engine.Event{
		Type:   "input_audio_buffer.commit",
		Fields: map[string]interface{}{"final": true},
	}); err != nil {
		return err
	}

	err := a.awaitGenerationDone(ctx)
	a.drainQueue()

	a.mu.Lock()
	a.active = false
	a.pending = nil
	a.pendingBytes = 0
	a.overlapRing = nil
	a.overlapBytes = 0
	a.segmentBytesSent = 0
	a.finalizeRequested = false
	a.mu.Unlock()

	return err
}

func (a *Adapter) awaitGenerationDone(ctx context.Context) error {
	timeout := a.settings.SegmentGenerationTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := a.session.AwaitGeneration(timeoutCtx); err != nil {
		if timeoutCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("adapter: timed out awaiting engine generation completion")
		}
		return err
	}
	return nil
}
