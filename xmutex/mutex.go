package xmutex

import (
	"fmt"

	"github.com/vpnhouse/thread-lib-go/sched"
	"github.com/vpnhouse/thread-lib-go/xspin"
)

var (
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrNotLocked       = fmt.Errorf("mutex is not locked")
	ErrNotOwner        = fmt.Errorf("mutex is locked by another thread")
	ErrDeadlock        = fmt.Errorf("mutex is already locked by the calling thread")
)

// Mutex is a cooperative, ownership-checked mutex for scheduler threads.
// Waiters are queued FIFO and ownership is handed to the head waiter on
// unlock. The zero value is an unlocked mutex.
type Mutex struct {
	guard xspin.Lock
	owner *sched.Thread
	queue []*sched.Thread
}

func New() *Mutex {
	return &Mutex{}
}

func (m *Mutex) Lock(t *sched.Thread) error {
	if m == nil || t == nil {
		return ErrInvalidArgument
	}

	m.guard.Lock()
	if m.owner == nil {
		m.owner = t
		m.guard.Unlock()
		return nil
	}
	if m.owner == t {
		m.guard.Unlock()
		return ErrDeadlock
	}

	m.queue = append(m.queue, t)
	// Ownership is assigned by the unlocking thread before it unparks
	// us, so there is nothing to re-check on wakeup.
	t.Scheduler().BlockAndUnlock(t, sched.StateMutexWait, &m.guard)
	return nil
}

func (m *Mutex) Unlock(t *sched.Thread) error {
	if m == nil || t == nil {
		return ErrInvalidArgument
	}

	m.guard.Lock()
	if m.owner == nil {
		m.guard.Unlock()
		return ErrNotLocked
	}
	if m.owner != t {
		m.guard.Unlock()
		return ErrNotOwner
	}

	if len(m.queue) == 0 {
		m.owner = nil
		m.guard.Unlock()
		return nil
	}

	next := m.queue[0]
	m.queue = m.queue[1:]
	m.owner = next
	m.guard.Unlock()

	next.Scheduler().MakeRunnable(next)
	return nil
}

// OwnedBy reports whether t currently holds the mutex.
func (m *Mutex) OwnedBy(t *sched.Thread) bool {
	m.guard.Lock()
	defer m.guard.Unlock()

	return m.owner == t
}

// UnlockForWait releases the mutex on behalf of a condition variable
// wait. It fails without blocking when t does not hold the mutex, which
// lets the wait roll back before the thread ever sleeps.
func (m *Mutex) UnlockForWait(t *sched.Thread) error {
	return m.Unlock(t)
}

// RelockAfterWait reacquires the mutex when a wait ends. Every exit
// path of a wait goes through here; the timed-out and interrupted paths
// ignore the result by contract.
func (m *Mutex) RelockAfterWait(t *sched.Thread) error {
	return m.Lock(t)
}
