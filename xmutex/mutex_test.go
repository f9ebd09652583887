package xmutex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vpnhouse/thread-lib-go/sched"
)

func newTestScheduler(t *testing.T) *sched.Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return sched.New(ctx, sched.Options{TimerInterval: time.Millisecond})
}

func TestLockUnlock(t *testing.T) {
	s := newTestScheduler(t)
	m := New()
	errs := make(chan error, 2)

	th := s.Go("worker", 0, func(th *sched.Thread) {
		errs <- m.Lock(th)
		errs <- m.Unlock(th)
	})

	assert.NoError(t, <-errs)
	assert.NoError(t, <-errs)
	assert.False(t, m.OwnedBy(th))
}

func TestErrors(t *testing.T) {
	s := newTestScheduler(t)
	m := New()
	done := make(chan struct{})

	owner := s.Go("owner", 0, func(th *sched.Thread) {
		assert.NoError(t, m.Lock(th))
		<-done
		assert.NoError(t, m.Unlock(th))
	})

	assert.Eventually(t, func() bool {
		return m.OwnedBy(owner)
	}, time.Second, time.Millisecond)

	errs := make(chan error, 2)
	s.Go("other", 0, func(th *sched.Thread) {
		errs <- m.Unlock(th)
	})
	assert.ErrorIs(t, <-errs, ErrNotOwner)

	close(done)
	s.Wait()

	s2 := newTestScheduler(t)
	m2 := New()
	s2.Go("worker", 0, func(th *sched.Thread) {
		errs <- m2.Unlock(th)
		_ = m2.Lock(th)
		errs <- m2.Lock(th)
		_ = m2.Unlock(th)
	})
	assert.ErrorIs(t, <-errs, ErrNotLocked)
	assert.ErrorIs(t, <-errs, ErrDeadlock)

	assert.ErrorIs(t, m.Lock(nil), ErrInvalidArgument)
	var nilMutex *Mutex
	s2.Wait()
	assert.ErrorIs(t, nilMutex.Unlock(nil), ErrInvalidArgument)
}

func TestFIFOHandoff(t *testing.T) {
	s := newTestScheduler(t)
	m := New()

	var (
		lock  sync.Mutex
		order []string
	)
	record := func(name string) {
		lock.Lock()
		defer lock.Unlock()
		order = append(order, name)
	}

	hold := make(chan struct{})
	first := s.Go("first", 0, func(th *sched.Thread) {
		assert.NoError(t, m.Lock(th))
		<-hold
		assert.NoError(t, m.Unlock(th))
	})

	assert.Eventually(t, func() bool {
		return m.OwnedBy(first)
	}, time.Second, time.Millisecond)

	waiter := func(name string) *sched.Thread {
		return s.Go(name, 0, func(th *sched.Thread) {
			assert.NoError(t, m.Lock(th))
			record(name)
			assert.NoError(t, m.Unlock(th))
		})
	}

	second := waiter("second")
	assert.Eventually(t, func() bool {
		return second.State() == sched.StateMutexWait
	}, time.Second, time.Millisecond)

	third := waiter("third")
	assert.Eventually(t, func() bool {
		return third.State() == sched.StateMutexWait
	}, time.Second, time.Millisecond)

	close(hold)
	s.Wait()

	assert.Equal(t, []string{"second", "third"}, order)
}
