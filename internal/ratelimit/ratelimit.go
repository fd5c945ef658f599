// Package ratelimit implements a sliding-window rate limiter used to bound
// how many WebSocket messages (or cancels) a single connection may submit
// per time window (spec component A).
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so tests can drive the window deterministically.
type Clock func() time.Time

// Window is a sliding-window counter: at most Max events may be consumed
// within any trailing Period duration. It is safe for concurrent use.
type Window struct {
	mu     sync.Mutex
	period time.Duration
	max    int
	clock  Clock
	events []time.Time
}

// New builds a Window that allows max events per period. period <= 0 or
// max <= 0 disables the limiter (Consume always succeeds).
func New(period time.Duration, max int) *Window {
	return &Window{
		period: period,
		max:    max,
		clock:  time.Now,
		events: make([]time.Time, 0, max),
	}
}

// NewWithClock is like New but lets tests inject a deterministic clock.
func NewWithClock(period time.Duration, max int, clock Clock) *Window {
	w := New(period, max)
	w.clock = clock
	return w
}

// Consume records one event and reports whether it is within the allowed
// rate. When it returns false, the event is still counted against the
// window so a client hammering the connection doesn't get free retries.
func (w *Window) Consume() bool {
	if w.period <= 0 || w.max <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock()
	cutoff := now.Add(-w.period)

	kept := w.events[:0]
	for _, t := range w.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.events = kept
	w.events = append(w.events, now)

	return len(w.events) <= w.max
}

// Count reports how many events are tracked, as pruned by the most recent
// Consume; events that expired since then are still counted.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

// RetryIn reports how long a caller should wait before the window has room
// for another event: the oldest currently-tracked event's expiry minus now,
// clamped to zero. Meaningless (and zero) when the limiter is disabled or
// no events are tracked yet.
func (w *Window) RetryIn() time.Duration {
	if w.period <= 0 || w.max <= 0 {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.events) == 0 {
		return 0
	}

	retry := w.events[0].Add(w.period).Sub(w.clock())
	if retry < 0 {
		retry = 0
	}
	return retry
}
