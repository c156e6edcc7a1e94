// Package pool provides typed object pooling with usage statistics, plus the
// shared line buffers and buffered readers used when decoding table rows.
//
// Example usage:
//
//	line := pool.GetBuffer(def.LineWidth)
//	defer pool.PutBuffer(line)
//
//	br := pool.GetReader(section)
//	defer pool.PutReader(br)
package pool

import (
	"bufio"
	"io"
	"sync"
	"sync/atomic"
)

// Pool is a type-safe wrapper around sync.Pool that resets objects on Put and
// tracks allocations. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a pool. reset is optional and runs before an object is
// returned to the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object, allocating one when the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.gets, 1)
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the number of objects allocated, currently checked out, and
// Get calls served by a recycled object.
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	allocated = atomic.LoadInt64(&p.stats.allocated)
	return allocated,
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.gets) - allocated
}

// BufferPool hands out byte slices from size buckets. Requests larger than
// the biggest bucket are allocated directly.
type BufferPool struct {
	pools []*Pool[*[]byte]
	sizes []int
}

// NewBufferPool creates a pool with buckets from 256B to 1MB.
func NewBufferPool() *BufferPool {
	sizes := []int{
		256,
		1024,
		4096,
		16384,
		65536,
		262144,
		1048576,
	}
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

// Put recycles a slice obtained from Get. Slices of any other capacity are
// left to the garbage collector.
func (p *BufferPool) Put(buf []byte) {
	c := cap(buf)
	for i, s := range p.sizes {
		if s == c {
			buf = buf[:c]
			p.pools[i].Put(&buf)
			return
		}
	}
}

// readerSize is the buffer size of pooled readers.
const readerSize = 64 * 1024

var (
	buffers = NewBufferPool()
	readers = New(
		func() *bufio.Reader { return bufio.NewReaderSize(nil, readerSize) },
		func(r *bufio.Reader) { r.Reset(nil) },
	)
)

// GetBuffer returns a shared buffer of length size.
func GetBuffer(size int) []byte {
	return buffers.Get(size)
}

// PutBuffer recycles a buffer from GetBuffer.
func PutBuffer(buf []byte) {
	buffers.Put(buf)
}

// GetReader returns a pooled buffered reader over r.
func GetReader(r io.Reader) *bufio.Reader {
	br := readers.Get()
	br.Reset(r)
	return br
}

// PutReader recycles a reader from GetReader.
func PutReader(br *bufio.Reader) {
	readers.Put(br)
}

// ReaderStats reports the statistics of the shared reader pool.
func ReaderStats() (allocated, inUse, hits int64) {
	return readers.Stats()
}
