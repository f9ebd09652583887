package xcond

import "github.com/vpnhouse/thread-lib-go/sched"

// waitQueue orders waiting threads by descending priority, FIFO among
// equal priorities. It holds non-owning references to threads owned by
// the scheduler; a thread's queue membership lives in the thread's own
// state so that removal stays idempotent across the three ways a thread
// can leave (signal, broadcast, self-removal after timeout/interrupt).
// All methods require the condition variable's guard to be held.
type waitQueue struct {
	head, tail *waitEntry
	size       int
}

type waitEntry struct {
	thread *sched.Thread
	// priority is a snapshot taken at enqueue time; a priority change
	// while queued does not re-sort the queue.
	priority   int
	next, prev *waitEntry
}

// enqueue links t into the queue. Equal-priority workloads hit the tail
// fast path; otherwise the first entry with a strictly lower priority is
// found by scanning from the head.
func (q *waitQueue) enqueue(t *sched.Thread) {
	e := &waitEntry{thread: t, priority: t.Priority()}

	if q.tail == nil || e.priority <= q.tail.priority {
		e.prev = q.tail
		if q.tail != nil {
			q.tail.next = e
		} else {
			q.head = e
		}
		q.tail = e
	} else {
		it := q.head
		for e.priority <= it.priority {
			it = it.next
		}
		e.next = it
		e.prev = it.prev
		if it.prev != nil {
			it.prev.next = e
		} else {
			q.head = e
		}
		it.prev = e
	}

	q.size++
	t.SetCondQueued(true)
}

// remove unlinks t if it is still queued, otherwise does nothing.
func (q *waitQueue) remove(t *sched.Thread) {
	if !t.InCondQueue() {
		return
	}

	for e := q.head; e != nil; e = e.next {
		if e.thread != t {
			continue
		}
		q.unlink(e)
		t.SetCondQueued(false)
		return
	}
}

// dequeueFirstEligible pops threads from the head until it claims one
// whose wakeup is not already owned by a timeout or interrupt. Skipped
// threads are already on their way back to running through another path
// and are not touched beyond being unlinked.
func (q *waitQueue) dequeueFirstEligible() *sched.Thread {
	for q.head != nil {
		e := q.head
		q.unlink(e)
		e.thread.SetCondQueued(false)
		if e.thread.ClaimWake(sched.WakeSignal) {
			return e.thread
		}
	}
	return nil
}

func (q *waitQueue) unlink(e *waitEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		q.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		q.tail = e.prev
	}
	e.next, e.prev = nil, nil
	q.size--
}

func (q *waitQueue) empty() bool {
	return q.head == nil
}
