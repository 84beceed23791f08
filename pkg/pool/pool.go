// Package pool provides typed object pools for allocations on the
// per-record hot path, such as geometry blob buffers.
//
//	buf := pool.Buffers.Get()
//	defer pool.Buffers.Put(buf)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBuffer caps the capacity of buffers returned to Buffers so one
// huge geometry does not pin memory for the rest of the run.
const maxPooledBuffer = 1 << 20

// Pool is a type-safe wrapper around sync.Pool with usage counters.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) bool
	stats struct {
		allocated atomic.Int64
		inUse     atomic.Int64
	}
}

// New creates a pool. reset prepares an object for reuse and reports
// whether it may be pooled again; nil keeps every object.
func New[T any](newFn func() T, reset func(T) bool) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.stats.allocated.Add(1)
		return newFn()
	}
	return p
}

// Get returns a pooled or newly allocated object.
func (p *Pool[T]) Get() T {
	p.stats.inUse.Add(1)
	return p.pool.Get().(T)
}

// Put hands obj back to the pool.
func (p *Pool[T]) Put(obj T) {
	p.stats.inUse.Add(-1)
	if p.reset != nil && !p.reset(obj) {
		return
	}
	p.pool.Put(obj)
}

// Stats returns how many objects were allocated and how many are checked out.
func (p *Pool[T]) Stats() (allocated, inUse int64) {
	return p.stats.allocated.Load(), p.stats.inUse.Load()
}

// Buffers pools byte buffers.
var Buffers = New(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) bool {
		if b.Cap() > maxPooledBuffer {
			return false
		}
		b.Reset()
		return true
	},
)
