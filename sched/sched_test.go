package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnhouse/thread-lib-go/xspin"
)

func newTestScheduler(t *testing.T, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if opts.TimerInterval == 0 {
		opts.TimerInterval = time.Millisecond
	}
	return New(ctx, opts)
}

// spawnBlocked spawns a thread that opens a wait and parks in the given
// state, reporting the consumed wake reason when it resumes.
func spawnBlocked(s *Scheduler, st State, reasons chan WakeReason) *Thread {
	return s.Go("blocked", 0, func(th *Thread) {
		var guard xspin.Lock
		guard.Lock()
		th.BeginWait()
		s.BlockAndUnlock(th, st, &guard)
		reasons <- th.ConsumeWake()
	})
}

func TestWakeWordSingleShot(t *testing.T) {
	s := newTestScheduler(t, Options{})
	done := make(chan struct{})
	defer close(done)

	th := s.Go("idle", 0, func(th *Thread) { <-done })

	token := th.BeginWait()
	assert.Equal(t, WakeNone, th.WakeReason())

	assert.True(t, th.ClaimWake(WakeSignal))
	assert.False(t, th.ClaimWake(WakeTimeout))
	assert.False(t, th.ClaimWake(WakeInterrupt))
	assert.Equal(t, WakeSignal, th.WakeReason())

	assert.Equal(t, WakeSignal, th.ConsumeWake())
	// The generation is retired: stale token holders cannot wake us.
	assert.False(t, th.claimWakeToken(token, WakeTimeout))
	assert.Equal(t, WakeNone, th.WakeReason())
}

func TestBlockAndMakeRunnable(t *testing.T) {
	s := newTestScheduler(t, Options{})
	reasons := make(chan WakeReason, 1)

	th := spawnBlocked(s, StateCondWait, reasons)

	assert.Eventually(t, func() bool {
		return th.State() == StateCondWait
	}, time.Second, time.Millisecond)

	require.True(t, th.ClaimWake(WakeSignal))
	s.MakeRunnable(th)

	select {
	case reason := <-reasons:
		assert.Equal(t, WakeSignal, reason)
	case <-time.After(time.Second):
		t.Fatal("thread was not woken")
	}
	assert.Eventually(t, func() bool {
		return th.State() == StateDone
	}, time.Second, time.Millisecond)
}

func TestUnparkBeforePark(t *testing.T) {
	s := newTestScheduler(t, Options{})
	reasons := make(chan WakeReason, 1)
	ready := make(chan struct{})
	proceed := make(chan struct{})

	th := s.Go("late", 0, func(th *Thread) {
		var guard xspin.Lock
		guard.Lock()
		th.BeginWait()
		close(ready)
		<-proceed // the waker runs before we park
		s.BlockAndUnlock(th, StateCondWait, &guard)
		reasons <- th.ConsumeWake()
	})

	<-ready
	require.True(t, th.ClaimWake(WakeSignal))
	s.MakeRunnable(th)
	close(proceed)

	select {
	case reason := <-reasons:
		assert.Equal(t, WakeSignal, reason)
	case <-time.After(time.Second):
		t.Fatal("buffered wakeup token was lost")
	}
}

func TestTimerTimeout(t *testing.T) {
	s := newTestScheduler(t, Options{})
	reasons := make(chan WakeReason, 1)

	s.Go("sleeper", 0, func(th *Thread) {
		var guard xspin.Lock
		guard.Lock()
		th.BeginWait()
		s.StartTimer(th, time.Now().Add(5*time.Millisecond))
		s.BlockAndUnlock(th, StateCondWait, &guard)
		s.StopTimer(th)
		reasons <- th.ConsumeWake()
	})

	select {
	case reason := <-reasons:
		assert.Equal(t, WakeTimeout, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("deadline never fired")
	}
}

// A timer entry that outlives the wait it was armed for must never wake
// a later wait of the same thread.
func TestStaleTimerCannotWake(t *testing.T) {
	s := newTestScheduler(t, Options{})
	reasons := make(chan WakeReason, 2)
	armed := make(chan struct{})
	second := make(chan struct{})

	th := s.Go("racer", 0, func(th *Thread) {
		var guard xspin.Lock
		guard.Lock()
		th.BeginWait()
		s.StartTimer(th, time.Now().Add(time.Hour))
		close(armed)
		s.BlockAndUnlock(th, StateCondWait, &guard)
		reasons <- th.ConsumeWake()

		// Second wait without stopping the first wait's timer.
		guard.Lock()
		th.BeginWait()
		close(second)
		s.BlockAndUnlock(th, StateCondWait, &guard)
		reasons <- th.ConsumeWake()
	})

	<-armed
	require.True(t, th.ClaimWake(WakeSignal))
	s.MakeRunnable(th)

	select {
	case reason := <-reasons:
		assert.Equal(t, WakeSignal, reason)
	case <-time.After(time.Second):
		t.Fatal("thread was not woken")
	}

	<-second
	// Force the stale entry to fire; its claim token belongs to the
	// retired generation and must lose.
	s.fireTimers(time.Now().Add(2 * time.Hour))

	select {
	case reason := <-reasons:
		t.Fatalf("stale timer woke a later wait: %v", reason)
	case <-time.After(20 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		return th.ClaimWake(WakeSignal)
	}, time.Second, time.Millisecond)
	s.MakeRunnable(th)

	select {
	case reason := <-reasons:
		assert.Equal(t, WakeSignal, reason)
	case <-time.After(time.Second):
		t.Fatal("second wait was never woken")
	}
}

func TestCancelBlockedThread(t *testing.T) {
	s := newTestScheduler(t, Options{})
	reasons := make(chan WakeReason, 1)
	var cleanups atomic.Int32

	th := s.Go("victim", 0, func(th *Thread) {
		th.OnCancel(func(*Thread) { cleanups.Add(1) })
		th.EnterCancelRegion()
		defer th.LeaveCancelRegion()

		var guard xspin.Lock
		guard.Lock()
		th.BeginWait()
		s.BlockAndUnlock(th, StateCondWait, &guard)
		reason := th.ConsumeWake()
		if reason == WakeInterrupt {
			th.RunCleanup()
			th.RunCleanup() // second run must be a no-op
		}
		reasons <- reason
	})

	assert.Eventually(t, func() bool {
		return th.State() == StateCondWait
	}, time.Second, time.Millisecond)
	s.Cancel(th)

	select {
	case reason := <-reasons:
		assert.Equal(t, WakeInterrupt, reason)
	case <-time.After(time.Second):
		t.Fatal("cancel was not delivered")
	}
	assert.Equal(t, int32(1), cleanups.Load())
	assert.False(t, th.Canceled())
}

func TestCancelBeforeBlock(t *testing.T) {
	s := newTestScheduler(t, Options{})
	reasons := make(chan WakeReason, 1)
	proceed := make(chan struct{})

	th := s.Go("victim", 0, func(th *Thread) {
		th.EnterCancelRegion()
		defer th.LeaveCancelRegion()

		<-proceed // cancel lands while we are still runnable
		var guard xspin.Lock
		guard.Lock()
		th.BeginWait()
		s.BlockAndUnlock(th, StateCondWait, &guard)
		reasons <- th.ConsumeWake()
	})

	s.Cancel(th)
	assert.True(t, th.Canceled())
	close(proceed)

	select {
	case reason := <-reasons:
		assert.Equal(t, WakeInterrupt, reason)
	case <-time.After(time.Second):
		t.Fatal("pending cancel slept through the block")
	}
}

func TestDeferWakeups(t *testing.T) {
	s := newTestScheduler(t, Options{})
	reasons := make(chan WakeReason, 1)

	th := spawnBlocked(s, StateCondWait, reasons)
	assert.Eventually(t, func() bool {
		return th.State() == StateCondWait
	}, time.Second, time.Millisecond)

	th.EnterCancelRegion() // make the blocked thread cancellable

	s.DeferWakeups()
	s.Cancel(th)

	select {
	case <-reasons:
		t.Fatal("cancel delivered inside a defer bracket")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, StateCondWait, th.State())

	s.UndeferWakeups()
	select {
	case reason := <-reasons:
		assert.Equal(t, WakeInterrupt, reason)
	case <-time.After(time.Second):
		t.Fatal("deferred cancel was never delivered")
	}
}

func TestIDGenWraps(t *testing.T) {
	g := newIDGen(1, 3)
	assert.Equal(t, uint64(1), g.next())
	assert.Equal(t, uint64(2), g.next())
	assert.Equal(t, uint64(3), g.next())
	assert.Equal(t, uint64(1), g.next())
}

func TestMeasure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMeasure(MeasureOptions{
		Namespace:   "threadlib",
		Subsystem:   "sched",
		ServiceName: "test",
		Registerer:  reg,
	})

	s := newTestScheduler(t, Options{Metrics: m})
	reasons := make(chan WakeReason, 1)

	th := spawnBlocked(s, StateCondWait, reasons)
	assert.Eventually(t, func() bool {
		return th.State() == StateCondWait
	}, time.Second, time.Millisecond)

	require.True(t, th.ClaimWake(WakeSignal))
	s.MakeRunnable(th)
	<-reasons
	s.Wait()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["threadlib_sched_thread_wakeups_total"])
	assert.True(t, names["threadlib_sched_threads_running"])
}
