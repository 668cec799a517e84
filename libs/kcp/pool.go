package kcp

import (
	pool "github.com/libp2p/go-buffer-pool"
)

// Pool is a free list of segments owned by a single engine. It is not safe
// for concurrent use. Payload buffers go back to the shared buffer pool.
type Pool struct {
	free []*Segment
}

// Pop returns a zeroed segment carrying a payload buffer of exactly size
// bytes. An empty pool allocates.
func (p *Pool) Pop(size int) *Segment {
	var seg *Segment
	if n := len(p.free); n > 0 {
		seg = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	} else {
		seg = new(Segment)
	}
	seg.data = pool.Get(size)
	return seg
}

// Push resets every field of seg and keeps it for reuse.
func (p *Pool) Push(seg *Segment) {
	if seg.data != nil {
		pool.Put(seg.data)
	}
	*seg = Segment{}
	p.free = append(p.free, seg)
}

// Len returns the number of idle segments.
func (p *Pool) Len() int {
	return len(p.free)
}
