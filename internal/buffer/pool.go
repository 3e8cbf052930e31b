// Package buffer pools the read buffers used by the command line tools.
package buffer

import (
	"sync"
	"sync/atomic"
)

// DefaultSizes are the bucket sizes of NewBytePool, 4KiB to 16MiB.
var DefaultSizes = []int{
	4 << 10,
	16 << 10,
	64 << 10,
	256 << 10,
	1 << 20,
	4 << 20,
	16 << 20,
}

// BytePool hands out byte slices from size buckets to reduce GC pressure.
// Requests larger than the biggest bucket are allocated directly.
type BytePool struct {
	pools map[int]*sync.Pool
	sizes []int

	gets   atomic.Uint64
	misses atomic.Uint64
}

// PoolStats reports pool usage.
type PoolStats struct {
	Sizes  []int  `json:"sizes"`
	Gets   uint64 `json:"gets"`
	Misses uint64 `json:"misses"`
}

// NewBytePool creates a pool with the given ascending bucket sizes, or
// DefaultSizes when none are given.
func NewBytePool(sizes ...int) *BytePool {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}
	p := &BytePool{
		pools: make(map[int]*sync.Pool, len(sizes)),
		sizes: append([]int(nil), sizes...),
	}
	for _, size := range p.sizes {
		p.pools[size] = &sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		}
	}
	return p
}

// Get returns a slice of length size from the smallest bucket that fits.
func (p *BytePool) Get(size int) []byte {
	p.gets.Add(1)
	for _, bucket := range p.sizes {
		if bucket >= size {
			buf := p.pools[bucket].Get().(*[]byte)
			return (*buf)[:size]
		}
	}
	p.misses.Add(1)
	return make([]byte, size)
}

// Put returns buf to its bucket. Slices whose capacity matches no bucket
// are left to the GC.
func (p *BytePool) Put(buf []byte) {
	pool, ok := p.pools[cap(buf)]
	if !ok {
		return
	}
	buf = buf[:cap(buf)]
	clear(buf)
	pool.Put(&buf)
}

// Stats returns pool statistics.
func (p *BytePool) Stats() PoolStats {
	return PoolStats{
		Sizes:  append([]int(nil), p.sizes...),
		Gets:   p.gets.Load(),
		Misses: p.misses.Load(),
	}
}
