// Package audioqueue implements a FIFO queue of audio chunks feeding the
// engine, with an exact running sample count and an overload drop policy
// (spec component E).
package audioqueue

import (
	"context"
	"sync"
)

// item wraps a chunk of PCM samples, or represents the null sentinel that
// terminates the stream when samples == nil.
type item struct {
	samples []int16
}

func (it item) isSentinel() bool { return it.samples == nil }

// Queue is a FIFO of audio chunks with an exact total_samples counter.
// Safe for concurrent use; GetBlocking parks the caller on a condition
// variable until an item is available or the context is cancelled.
type Queue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	items       []item
	totalSamples int64
	sampleRate  int
}

// New builds an empty Queue. sampleRate is used to convert total_samples
// into seconds for DropOldestToMaxBacklog.
func New(sampleRate int) *Queue {
	q := &Queue{sampleRate: sampleRate}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends a chunk of PCM samples to the tail of the queue.
func (q *Queue) Put(samples []int16) {
	q.mu.Lock()
	q.items = append(q.items, item{samples: samples})
	q.totalSamples += int64(len(samples))
	q.mu.Unlock()
	q.cond.Signal()
}

// PutSentinel appends the null sentinel marking end-of-stream.
func (q *Queue) PutSentinel() {
	q.mu.Lock()
	q.items = append(q.items, item{samples: nil})
	q.mu.Unlock()
	q.cond.Signal()
}

// TryGet pops the head item without blocking. ok is false if the queue is
// empty. A nil samples slice with ok true is the sentinel.
func (q *Queue) TryGet() (samples []int16, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// GetBlocking pops the head item, blocking until one is available or ctx is
// done. When ctx is cancelled first it returns (nil, false).
func (q *Queue) GetBlocking(ctx context.Context) (samples []int16, ok bool) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		// Holding the mutex keeps the broadcast from landing between the
		// waiter's done check and its cond.Wait.
		q.mu.Lock()
		close(done)
		q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		select {
		case <-done:
			return nil, false
		default:
		}
		if ctx.Err() != nil {
			return nil, false
		}
		q.cond.Wait()
	}
	return q.popLocked()
}

func (q *Queue) popLocked() ([]int16, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	if !head.isSentinel() {
		q.totalSamples -= int64(len(head.samples))
		if q.totalSamples < 0 {
			q.totalSamples = 0
		}
	}
	return head.samples, true
}

// Empty reports whether the queue currently holds no items.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// TotalSamples returns the exact running sample count across all
// non-sentinel items currently queued.
func (q *Queue) TotalSamples() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalSamples
}

// DropOldestToMaxBacklog removes items from the head while the queue's
// backlog exceeds maxSeconds, stopping immediately (without dropping
// anything more) if it encounters the sentinel, which it reinserts at the
// head. Returns the number of seconds of audio dropped.
func (q *Queue) DropOldestToMaxBacklog(maxSeconds float64) float64 {
	if maxSeconds <= 0 || q.sampleRate <= 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var droppedSamples int64
	for float64(q.totalSamples)/float64(q.sampleRate) > maxSeconds {
		if len(q.items) == 0 {
			break
		}
		head := q.items[0]
		if head.isSentinel() {
			break
		}
		q.items = q.items[1:]
		droppedSamples += int64(len(head.samples))
		q.totalSamples -= int64(len(head.samples))
		if q.totalSamples < 0 {
			q.totalSamples = 0
		}
	}

	if droppedSamples == 0 {
		return 0
	}
	return float64(droppedSamples) / float64(q.sampleRate)
}
