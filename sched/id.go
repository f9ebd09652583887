package sched

import "sync"

type idGen struct {
	lock     sync.Mutex
	current  uint64
	min, max uint64
}

func newIDGen(min, max uint64) *idGen {
	return &idGen{
		current: min,
		min:     min,
		max:     max,
	}
}

func (g *idGen) next() (current uint64) {
	g.lock.Lock()
	defer g.lock.Unlock()

	current = g.current

	g.current++
	if g.current > g.max {
		g.current = g.min
	}

	return
}
