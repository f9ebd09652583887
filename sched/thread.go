package sched

import (
	"sync/atomic"
	"time"
)

type State int32

const (
	StateRunning State = iota
	StateCondWait
	StateMutexWait
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCondWait:
		return "cond_wait"
	case StateMutexWait:
		return "mutex_wait"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// WakeReason says which path brought a blocked thread back to life.
// None means the thread was not woken through the wake word at all
// (direct handoff, e.g. mutex ownership transfer).
type WakeReason int32

const (
	WakeNone WakeReason = iota
	WakeSignal
	WakeTimeout
	WakeInterrupt
)

func (r WakeReason) String() string {
	switch r {
	case WakeNone:
		return "none"
	case WakeSignal:
		return "signal"
	case WakeTimeout:
		return "timeout"
	case WakeInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// The wake word packs a wait generation counter with the claimed reason:
// word = generation<<wakeReasonBits | reason. A wake path owns the wakeup
// only if it flips the reason bits of the current generation from
// WakeNone, so signal, timeout and interrupt can race freely and exactly
// one of them wins. Advancing the generation invalidates claims held by
// stale actors (a timer entry that outlived its wait, for example).
const (
	wakeReasonBits = 3
	wakeReasonMask = 1<<wakeReasonBits - 1
)

// Thread is a logical thread of the cooperative runtime. It is created
// by Scheduler.Go and owned by the scheduler; wait queues hold references
// to it, never ownership.
type Thread struct {
	id    uint64
	name  string
	sched *Scheduler

	priority atomic.Int32
	state    atomic.Int32
	wake     atomic.Uint64
	queued   atomic.Bool

	// park carries at most one wakeup token. A buffered token makes the
	// unpark-before-park race benign: the park below returns immediately.
	park chan struct{}

	// deadline of the currently registered timer. Written only by the
	// owning thread around its own timed waits.
	deadline time.Time

	cancelDepth   atomic.Int32
	cancelPending atomic.Bool
	cleanup       func(t *Thread)
}

func (t *Thread) ID() uint64            { return t.id }
func (t *Thread) Name() string          { return t.name }
func (t *Thread) Scheduler() *Scheduler { return t.sched }

func (t *Thread) State() State {
	return State(t.state.Load())
}

func (t *Thread) setState(s State) {
	t.state.Store(int32(s))
}

// Priority returns the thread's current scheduling priority. Wait queues
// take a snapshot of it at enqueue time; a later SetPriority does not
// re-sort queues the thread already sits in.
func (t *Thread) Priority() int {
	return int(t.priority.Load())
}

func (t *Thread) SetPriority(p int) {
	t.priority.Store(int32(p))
}

// InCondQueue reports whether the thread is currently linked into some
// condition variable's wait queue. The flag makes queue removal
// idempotent: a thread can leave the queue through signal, broadcast or
// its own timeout/interrupt cleanup, whichever gets there first.
func (t *Thread) InCondQueue() bool {
	return t.queued.Load()
}

// SetCondQueued is for wait queue implementations; callers must hold the
// queue's guard lock.
func (t *Thread) SetCondQueued(v bool) {
	t.queued.Store(v)
}

// BeginWait opens a fresh wait generation with an unclaimed wake word
// and returns its token. Call it before enqueueing, under the same guard
// the wakers use.
func (t *Thread) BeginWait() uint64 {
	for {
		old := t.wake.Load()
		next := (old>>wakeReasonBits + 1) << wakeReasonBits
		if t.wake.CompareAndSwap(old, next) {
			return next
		}
	}
}

// ClaimWake tries to own the wakeup of the thread's current wait.
// It returns false if another path has already claimed it, in which case
// the caller must not touch the thread further.
func (t *Thread) ClaimWake(r WakeReason) bool {
	old := t.wake.Load()
	if WakeReason(old&wakeReasonMask) != WakeNone {
		return false
	}
	return t.wake.CompareAndSwap(old, old|uint64(r))
}

// claimWakeToken is ClaimWake pinned to one generation, used by actors
// that captured the token earlier and may run arbitrarily late.
func (t *Thread) claimWakeToken(token uint64, r WakeReason) bool {
	if WakeReason(token&wakeReasonMask) != WakeNone {
		return false
	}
	return t.wake.CompareAndSwap(token, token|uint64(r))
}

// WakeReason reads the reason claimed for the current generation.
func (t *Thread) WakeReason() WakeReason {
	return WakeReason(t.wake.Load() & wakeReasonMask)
}

// ConsumeWake returns the claimed reason and retires the generation, so
// any actor still holding the old token can no longer wake the thread.
func (t *Thread) ConsumeWake() WakeReason {
	for {
		old := t.wake.Load()
		next := (old>>wakeReasonBits + 1) << wakeReasonBits
		if t.wake.CompareAndSwap(old, next) {
			return WakeReason(old & wakeReasonMask)
		}
	}
}
