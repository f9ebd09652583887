package xcond

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vpnhouse/thread-lib-go/sched"
	"github.com/vpnhouse/thread-lib-go/xmutex"
	"github.com/vpnhouse/thread-lib-go/xspin"
)

var (
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrTimedOut        = fmt.Errorf("wait deadline elapsed")
	ErrBusy            = fmt.Errorf("condition variable has queued waiters")
)

const flagInitialized = 1 << 0

// Cond is a condition variable for scheduler threads: waiters block
// until a predicate guarded by an external mutex becomes true and are
// woken one at a time in priority order, or all at once.
//
// The zero value is a valid condition variable that initializes itself
// on first use. Every operation takes the calling thread's handle
// explicitly.
type Cond struct {
	guard xspin.Lock
	flags atomic.Uint32
	kind  Kind

	// mutex is the external mutex the current waiters are using. It is
	// non-nil exactly when the queue is non-empty, and all concurrent
	// waiters must pass the same mutex.
	mutex *xmutex.Mutex
	queue waitQueue
}

// New creates a condition variable with the requested attributes.
func New(attr *Attr) (*Cond, error) {
	kind := KindFast
	if attr != nil {
		kind = attr.Kind
	}
	if kind != KindFast {
		return nil, ErrInvalidArgument
	}

	c := &Cond{kind: kind}
	c.flags.Store(flagInitialized)
	return c, nil
}

// lazyInit resolves a zero-valued Cond into a live one, once. Must be
// called with c.guard held.
func (c *Cond) lazyInit() {
	if c.flags.Load()&flagInitialized != 0 {
		return
	}
	c.kind = KindFast
	c.mutex = nil
	c.queue = waitQueue{}
	c.flags.Store(flagInitialized)
}

// Destroy tears down the condition variable. Destroying one with queued
// waiters is a caller bug and is rejected with ErrBusy.
func (c *Cond) Destroy() error {
	if c == nil {
		return ErrInvalidArgument
	}

	c.guard.Lock()
	defer c.guard.Unlock()

	if c.flags.Load()&flagInitialized == 0 {
		return ErrInvalidArgument
	}
	if !c.queue.empty() {
		return ErrBusy
	}

	c.flags.Store(0)
	c.mutex = nil
	return nil
}

// Wait atomically releases m and blocks t until it is signaled,
// broadcast to, or interrupted by cancellation. On every return the
// calling thread holds m again, except when validation failed before m
// was ever released.
func (c *Cond) Wait(t *sched.Thread, m *xmutex.Mutex) error {
	if c == nil || t == nil || m == nil {
		return ErrInvalidArgument
	}

	t.EnterCancelRegion()
	defer t.LeaveCancelRegion()

	return c.wait(t, m, time.Time{})
}

// TimedWait is Wait with an absolute deadline. It returns ErrTimedOut
// when the deadline passes before a wakeup; the mutex is reacquired
// best-effort on that path, as on the interrupted one.
func (c *Cond) TimedWait(t *sched.Thread, m *xmutex.Mutex, deadline Deadline) error {
	if c == nil || t == nil || m == nil {
		return ErrInvalidArgument
	}

	// The cancellation region brackets the validation failure path too,
	// so every exit of TimedWait pairs entry and exit.
	t.EnterCancelRegion()
	defer t.LeaveCancelRegion()

	if !deadline.valid() {
		return ErrInvalidArgument
	}

	return c.wait(t, m, deadline.time())
}

func (c *Cond) wait(t *sched.Thread, m *xmutex.Mutex, deadline time.Time) error {
	s := t.Scheduler()
	hasDeadline := !deadline.IsZero()

	c.guard.Lock()
	c.lazyInit()

	if c.mutex != nil && c.mutex != m {
		c.guard.Unlock()
		c.finished(s, "error")
		return ErrInvalidArgument
	}

	t.BeginWait()
	c.queue.enqueue(t)
	c.mutex = m
	if hasDeadline {
		s.StartTimer(t, deadline)
	}

	if err := m.UnlockForWait(t); err != nil {
		// The thread never blocks on this path: undo the enqueue and
		// surface the mutex failure.
		if hasDeadline {
			s.StopTimer(t)
		}
		c.queue.remove(t)
		if c.queue.empty() {
			c.mutex = nil
		}
		c.guard.Unlock()
		c.finished(s, "error")
		return err
	}

	s.BlockAndUnlock(t, sched.StateCondWait, &c.guard)

	if hasDeadline {
		s.StopTimer(t)
	}

	switch t.ConsumeWake() {
	case sched.WakeTimeout:
		c.removeSelf(t)
		// POSIX semantics: reacquire the mutex regardless of outcome
		// rather than leave its state ambiguous.
		_ = m.RelockAfterWait(t)
		c.finished(s, "timeout")
		return ErrTimedOut

	case sched.WakeInterrupt:
		c.removeSelf(t)
		err := m.RelockAfterWait(t)
		t.RunCleanup()
		c.finished(s, "interrupted")
		return err

	default:
		// Signaled: the waker already unlinked us.
		err := m.RelockAfterWait(t)
		c.finished(s, "signaled")
		return err
	}
}

func (c *Cond) removeSelf(t *sched.Thread) {
	c.guard.Lock()
	c.queue.remove(t)
	if c.queue.empty() {
		c.mutex = nil
	}
	c.guard.Unlock()
}

// Signal wakes the highest-priority eligible waiter, if any. Waiters
// already departing via timeout or interruption are skipped.
func (c *Cond) Signal(t *sched.Thread) error {
	if c == nil || t == nil {
		return ErrInvalidArgument
	}
	s := t.Scheduler()

	s.DeferWakeups()
	defer s.UndeferWakeups()

	c.guard.Lock()
	c.lazyInit()

	if w := c.queue.dequeueFirstEligible(); w != nil {
		s.MakeRunnable(w)
	}
	if c.queue.empty() {
		c.mutex = nil
	}
	c.guard.Unlock()
	return nil
}

// Broadcast wakes every eligible waiter in one pass.
func (c *Cond) Broadcast(t *sched.Thread) error {
	if c == nil || t == nil {
		return ErrInvalidArgument
	}
	s := t.Scheduler()

	s.DeferWakeups()
	defer s.UndeferWakeups()

	c.guard.Lock()
	c.lazyInit()

	for {
		w := c.queue.dequeueFirstEligible()
		if w == nil {
			break
		}
		s.MakeRunnable(w)
	}
	// No genuinely waiting threads remain at this point.
	c.mutex = nil
	c.guard.Unlock()
	return nil
}

func (c *Cond) finished(s *sched.Scheduler, outcome string) {
	if m := s.Metrics(); m != nil {
		m.WaitFinished(outcome)
	}
}

// waiters reports the current queue length.
func (c *Cond) waiters() int {
	c.guard.Lock()
	defer c.guard.Unlock()

	return c.queue.size
}
