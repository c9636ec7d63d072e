// Package pool provides bounded free lists for per-message objects:
// encode buffers, iterators and messages. Acquire hands out a reset
// object, Release returns it, and With guarantees the release on every
// exit path.
package pool

import "sync"

// Pool is a free list of *T. The zero value is not usable; use New.
type Pool[T any] struct {
	mu    sync.Mutex
	free  []*T
	max   int
	alloc func() *T
	reset func(*T)

	acquired uint64
	reused   uint64
}

// New returns a pool keeping at most maxIdle released objects. reset may be nil.
func New[T any](maxIdle int, alloc func() *T, reset func(*T)) *Pool[T] {
	return &Pool[T]{max: maxIdle, alloc: alloc, reset: reset}
}

// Acquire returns a reset object, reusing a released one when available.
func (p *Pool[T]) Acquire() *T {
	p.mu.Lock()
	p.acquired++
	if n := len(p.free); n > 0 {
		v := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.reused++
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()
	return p.alloc()
}

// Release returns v to the pool. v must not be used afterwards.
func (p *Pool[T]) Release(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.mu.Lock()
	if len(p.free) < p.max {
		p.free = append(p.free, v)
	}
	p.mu.Unlock()
}

// With acquires an object for the duration of fn.
func (p *Pool[T]) With(fn func(*T) error) error {
	v := p.Acquire()
	defer p.Release(v)
	return fn(v)
}

// Stats reports how many acquisitions were served and how many of them
// reused a released object.
func (p *Pool[T]) Stats() (acquired, reused uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired, p.reused
}

// Idle returns the number of released objects held.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
