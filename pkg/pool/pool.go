// Package pool provides typed object pooling on top of sync.Pool, and a
// byte buffer pool with size buckets for block I/O.
//
// Example usage:
//
//	buffers := pool.NewBufferPool()
//	buf := buffers.Get(8 << 10)
//	defer buffers.Put(buf)
//
//	blocks := pool.New(
//	    func() *Block { return &Block{} },
//	    func(b *Block) { b.Reset() },
//	)
//	b := blocks.Get()
//	defer blocks.Put(b)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a type-safe sync.Pool that counts allocations and checkouts.
// It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a pool. newFn allocates when the pool is empty; reset, if
// not nil, runs on every object handed back through Put.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object, allocating one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.gets, 1)
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the objects allocated so far, those currently checked out,
// and the Get calls served from recycled objects.
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	allocated = atomic.LoadInt64(&p.stats.allocated)
	hits = atomic.LoadInt64(&p.stats.gets) - allocated
	if hits < 0 {
		hits = 0
	}
	return allocated, atomic.LoadInt64(&p.stats.inUse), hits
}

// BufferPool hands out byte slices from power-of-4 size buckets between
// 4KB and 16MB. Larger requests are allocated directly and never pooled.
type BufferPool struct {
	pools []*Pool[*[]byte]
	sizes []int
}

// NewBufferPool creates a pool with buckets of 4KB, 16KB, 64KB, 256KB,
// 1MB, 4MB and 16MB.
func NewBufferPool() *BufferPool {
	sizes := []int{4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20, 16 << 20}
	pools := make([]*Pool[*[]byte], len(sizes))
	for i, size := range sizes {
		size := size
		pools[i] = New(func() *[]byte {
			b := make([]byte, size)
			return &b
		}, nil)
	}
	return &BufferPool{pools: pools, sizes: sizes}
}

// Get returns a slice of length size from the smallest bucket that fits.
func (p *BufferPool) Get(size int) []byte {
	for i, s := range p.sizes {
		if s >= size {
			return (*p.pools[i].Get())[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to the bucket matching its capacity. Buffers that grew
// past their bucket, or never came from one, are left to the GC.
func (p *BufferPool) Put(buf []byte) {
	for i, s := range p.sizes {
		if s == cap(buf) {
			buf = buf[:s]
			p.pools[i].Put(&buf)
			return
		}
	}
}
