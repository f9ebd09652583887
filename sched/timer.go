package sched

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// The timer service realizes wait deadlines: a timed waiter registers an
// absolute wake time before blocking, and the service claims a timeout
// wakeup for every registered thread whose deadline has passed. Threads
// that were signaled or interrupted first lose the claim race and are
// simply dropped.

type timerEntry struct {
	deadline time.Time
	id       uint64
	thread   *Thread
	token    uint64
}

func timerEntryLess(a, b timerEntry) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.id < b.id
}

// StartTimer registers an absolute deadline for t's current wait. It
// must be called between BeginWait and BlockAndUnlock, under the same
// guard the wakers use, so the captured wake token still belongs to the
// wait being set up.
func (s *Scheduler) StartTimer(t *Thread, deadline time.Time) {
	t.deadline = deadline

	s.timerLock.Lock()
	s.timers.Set(timerEntry{
		deadline: deadline,
		id:       t.id,
		thread:   t,
		token:    t.wake.Load(),
	})
	s.timerLock.Unlock()
}

// StopTimer drops t's registered deadline if it is still pending. Safe
// to call when the timer already fired or was never started.
func (s *Scheduler) StopTimer(t *Thread) {
	if t.deadline.IsZero() {
		return
	}

	s.timerLock.Lock()
	s.timers.Delete(timerEntry{deadline: t.deadline, id: t.id})
	s.timerLock.Unlock()
	t.deadline = time.Time{}
}

func (s *Scheduler) runTimers(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			s.fireTimers(time.Now())
		}
	}
}

func (s *Scheduler) fireTimers(now time.Time) {
	var due []timerEntry

	s.timerLock.Lock()
	for {
		entry, ok := s.timers.Min()
		if !ok || entry.deadline.After(now) {
			break
		}
		s.timers.Delete(entry)
		due = append(due, entry)
	}
	s.timerLock.Unlock()

	for _, entry := range due {
		// The token pins the claim to the wait the deadline was set for;
		// a thread that has moved on is left alone.
		if entry.thread.claimWakeToken(entry.token, WakeTimeout) {
			s.log.Debug("wait timed out",
				zap.Uint64("tid", entry.thread.id),
				zap.Time("deadline", entry.deadline))
			s.MakeRunnable(entry.thread)
		}
	}
}
