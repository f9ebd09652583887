package xspin

import (
	"runtime"
	"sync/atomic"
)

// Lock is a test-and-set spinlock guarding short, non-blocking critical
// sections. The zero value is an unlocked lock.
//
// It spins with a scheduler yield instead of parking, so it stays usable
// from code that is itself implementing the parking machinery.
type Lock struct {
	state int32
}

func (l *Lock) Lock() {
	for !atomic.CompareAndSwapInt32(&l.state, 0, 1) {
		runtime.Gosched()
	}
}

func (l *Lock) TryLock() bool {
	return atomic.CompareAndSwapInt32(&l.state, 0, 1)
}

func (l *Lock) Unlock() {
	atomic.StoreInt32(&l.state, 0)
}
