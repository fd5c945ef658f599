package lifecycle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdog_FiresIdleAfterTimeoutWhenNotBusy(t *testing.T) {
	var idleFired, maxFired int32
	w := New(
		50*time.Millisecond, 10*time.Millisecond, 0,
		func() bool { return false },
		func() { atomic.AddInt32(&idleFired, 1) },
		func() { atomic.AddInt32(&maxFired, 1) },
	)
	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&idleFired) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&maxFired))
}

func TestWatchdog_BusySuppressesIdleButNotMaxDuration(t *testing.T) {
	var idleFired, maxFired int32
	w := New(
		30*time.Millisecond, 10*time.Millisecond, 60*time.Millisecond,
		func() bool { return true },
		func() { atomic.AddInt32(&idleFired, 1) },
		func() { atomic.AddInt32(&maxFired, 1) },
	)
	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&maxFired) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&idleFired), "a busy session must never be idle-expired")
}

func TestWatchdog_TouchResetsIdleClock(t *testing.T) {
	var idleFired int32
	w := New(
		40*time.Millisecond, 10*time.Millisecond, 0,
		func() bool { return false },
		func() { atomic.AddInt32(&idleFired, 1) },
		nil,
	)
	w.Start()
	defer w.Stop()

	deadline := time.Now().Add(80 * time.Millisecond)
	for time.Now().Before(deadline) {
		w.Touch()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&idleFired), "repeated touches should keep deferring idle expiry")
}

func TestWatchdog_StopTerminatesLoop(t *testing.T) {
	w := New(10*time.Millisecond, 5*time.Millisecond, 0, func() bool { return false }, func() {}, func() {})
	w.Start()
	w.Stop()
	// Stop should return promptly without hanging; reaching here is the assertion.
}
