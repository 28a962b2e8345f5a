// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

const (
	minClassShift = 9  // 512 B
	maxClassShift = 22 // 4 MiB
	numClasses    = maxClassShift - minClassShift + 1
)

// BytePoolStats reports allocation counters.
type BytePoolStats struct {
	TotalAlloc int64 // slices created by the pool
	TotalGet   int64
	TotalPut   int64
	Oversize   int64 // requests above the largest class, served by make
}

// BytePool recycles byte slices by power-of-two capacity class. Requests
// larger than the largest class are allocated directly and never retained.
type BytePool struct {
	classes [numClasses]sync.Pool

	totalAlloc atomic.Int64
	totalGet   atomic.Int64
	totalPut   atomic.Int64
	oversize   atomic.Int64
}

// NewBytePool constructs an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i := range p.classes {
		size := 1 << (i + minClassShift)
		p.classes[i].New = func() any {
			p.totalAlloc.Add(1)
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

// classOf returns the index of the smallest class holding n bytes, or -1.
func classOf(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	shift := bits.Len(uint(n - 1))
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}

// Get returns a slice of length n. Its capacity may be larger.
func (p *BytePool) Get(n int) []byte {
	p.totalGet.Add(1)
	c := classOf(n)
	if c < 0 {
		p.oversize.Add(1)
		return make([]byte, n)
	}
	bp := p.classes[c].Get().(*[]byte)
	return (*bp)[:n]
}

// Put returns buf to its class. Slices whose capacity is not exactly a
// class size (foreign or oversize) are dropped.
func (p *BytePool) Put(buf []byte) {
	c := cap(buf)
	if c < 1<<minClassShift || c > 1<<maxClassShift || c&(c-1) != 0 {
		return
	}
	p.totalPut.Add(1)
	buf = buf[:c]
	p.classes[bits.Len(uint(c))-1-minClassShift].Put(&buf)
}

// Stats returns a snapshot of the counters.
func (p *BytePool) Stats() BytePoolStats {
	return BytePoolStats{
		TotalAlloc: p.totalAlloc.Load(),
		TotalGet:   p.totalGet.Load(),
		TotalPut:   p.totalPut.Load(),
		Oversize:   p.oversize.Load(),
	}
}
