package sched

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/vpnhouse/thread-lib-go/xspin"
)

const defaultTimerInterval = time.Millisecond

type Options struct {
	// Logger for thread lifecycle and cancellation events, zap.NewNop()
	// when empty.
	Logger *zap.Logger
	// Metrics sink, optional.
	Metrics *Measure
	// TimerInterval is the resolution of the deadline timer service.
	TimerInterval time.Duration
}

// Scheduler multiplexes logical threads onto goroutines and provides the
// low-level blocking bridge used by the mutex and condition variable
// implementations: park/unpark, deadline timers and cancellation
// delivery.
type Scheduler struct {
	id      uuid.UUID
	log     *zap.Logger
	measure *Measure
	ids     *idGen
	wg      sync.WaitGroup

	timerLock sync.Mutex
	timers    *btree.BTreeG[timerEntry]

	deferLock  sync.Mutex
	deferDepth int
	deferred   []*Thread
}

func New(ctx context.Context, opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TimerInterval <= 0 {
		opts.TimerInterval = defaultTimerInterval
	}

	s := &Scheduler{
		id:      uuid.New(),
		log:     opts.Logger,
		measure: opts.Metrics,
		ids:     newIDGen(1, math.MaxUint64-1),
		timers:  btree.NewBTreeG[timerEntry](timerEntryLess),
	}

	s.log.Debug("scheduler started", zap.Stringer("scheduler", s.id))
	go s.runTimers(ctx, opts.TimerInterval)
	return s
}

func (s *Scheduler) ID() uuid.UUID { return s.id }

func (s *Scheduler) Metrics() *Measure { return s.measure }

// Go spawns a logical thread and returns its handle. The handle is
// passed explicitly into every blocking operation; there is no ambient
// "current thread" lookup.
func (s *Scheduler) Go(name string, priority int, fn func(t *Thread)) *Thread {
	t := &Thread{
		id:    s.ids.next(),
		name:  name,
		sched: s,
		park:  make(chan struct{}, 1),
	}
	t.priority.Store(int32(priority))
	t.setState(StateRunning)

	if s.measure != nil {
		s.measure.threadStarted()
	}
	s.log.Debug("thread started",
		zap.Stringer("scheduler", s.id),
		zap.Uint64("tid", t.id),
		zap.String("name", name),
		zap.Int("priority", priority))

	s.wg.Add(1)
	go func() {
		defer func() {
			t.setState(StateDone)
			if s.measure != nil {
				s.measure.threadStopped()
			}
			s.log.Debug("thread done", zap.Uint64("tid", t.id), zap.String("name", t.name))
			s.wg.Done()
		}()
		fn(t)
	}()
	return t
}

// Wait blocks until every spawned thread has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// BlockAndUnlock marks t blocked in state st, releases guard and parks,
// all observable as one step: no other thread sees the guard free while
// t is still runnable, and nobody sees t blocked with the guard held.
// The caller must have queued t wherever its waker will look for it, and
// the waker must claim t's wake word before unparking.
func (s *Scheduler) BlockAndUnlock(t *Thread, st State, guard *xspin.Lock) {
	t.setState(st)
	guard.Unlock()

	// A cancellation that arrived during wait setup could not claim the
	// wake word while the thread was still runnable. Deliver it now
	// instead of sleeping through it.
	if st == StateCondWait && t.Canceled() && t.InCancelRegion() && t.ClaimWake(WakeInterrupt) {
		s.unpark(t)
	}

	<-t.park
	t.setState(StateRunning)
}

// MakeRunnable transitions a thread whose wakeup has been claimed back
// to the running state.
func (s *Scheduler) MakeRunnable(t *Thread) {
	if s.measure != nil {
		s.measure.wakeup(t.WakeReason())
	}
	s.unpark(t)
}

func (s *Scheduler) unpark(t *Thread) {
	select {
	case t.park <- struct{}{}:
	default:
	}
}
