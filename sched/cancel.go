package sched

import (
	"runtime"

	"go.uber.org/zap"
)

// Cancellation is cooperative. A cancel request marks the target thread
// pending; the request is acted upon only at defined points: when the
// target blocks or is blocked inside a cancellation-sensitive region,
// or when the target itself polls Canceled. Delivery to a blocked
// thread claims an interrupt wakeup; the waiter then runs its cleanup
// continuation after reacquiring whatever mutex its wait contract
// requires.

// EnterCancelRegion opens a cancellation-sensitive region. Regions
// nest; every entry must be paired with LeaveCancelRegion.
func (t *Thread) EnterCancelRegion() {
	t.cancelDepth.Add(1)
}

func (t *Thread) LeaveCancelRegion() {
	t.cancelDepth.Add(-1)
}

func (t *Thread) InCancelRegion() bool {
	return t.cancelDepth.Load() > 0
}

// Canceled reports whether a cancel request is pending and has not yet
// been consumed by RunCleanup.
func (t *Thread) Canceled() bool {
	return t.cancelPending.Load()
}

// OnCancel installs the cleanup continuation run when a wait ends via
// interruption. Must be called by the owning thread before it blocks.
func (t *Thread) OnCancel(fn func(t *Thread)) {
	t.cleanup = fn
}

// RunCleanup consumes a pending cancel and runs the continuation, at
// most once per cancel request. Called by wait implementations on the
// interrupted exit path, after the mutex has been reacquired.
func (t *Thread) RunCleanup() {
	if !t.cancelPending.CompareAndSwap(true, false) {
		return
	}
	if t.cleanup != nil {
		t.cleanup(t)
	}
}

// Cancel requests cancellation of t. While wakeups are deferred the
// request is queued and delivered by UndeferWakeups.
func (s *Scheduler) Cancel(t *Thread) {
	s.deferLock.Lock()
	if s.deferDepth > 0 {
		s.deferred = append(s.deferred, t)
		s.deferLock.Unlock()
		if s.measure != nil {
			s.measure.cancelRequested(true)
		}
		return
	}
	s.deferLock.Unlock()

	if s.measure != nil {
		s.measure.cancelRequested(false)
	}
	s.deliverCancel(t)
}

func (s *Scheduler) deliverCancel(t *Thread) {
	t.cancelPending.Store(true)
	if t.InCancelRegion() && t.State() == StateCondWait && t.ClaimWake(WakeInterrupt) {
		s.log.Debug("wait interrupted", zap.Uint64("tid", t.id), zap.String("name", t.name))
		s.MakeRunnable(t)
	}
}

// DeferWakeups suspends cancellation delivery so the caller can mutate
// wait queues without an interrupt landing in the middle. Brackets
// nest and must be paired with UndeferWakeups.
func (s *Scheduler) DeferWakeups() {
	s.deferLock.Lock()
	s.deferDepth++
	s.deferLock.Unlock()
}

// UndeferWakeups closes a DeferWakeups bracket. When the last bracket
// closes it delivers every cancel queued meanwhile and yields the
// processor so freshly woken threads get a chance to run.
func (s *Scheduler) UndeferWakeups() {
	s.deferLock.Lock()
	s.deferDepth--
	var pending []*Thread
	if s.deferDepth == 0 && len(s.deferred) > 0 {
		pending = s.deferred
		s.deferred = nil
	}
	s.deferLock.Unlock()

	if len(pending) == 0 {
		return
	}
	for _, t := range pending {
		s.deliverCancel(t)
	}
	runtime.Gosched()
}
