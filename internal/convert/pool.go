package convert

import (
	"image"
	"sync"
)

// Pool is a bucketed cache of RGBA pixel buffers keyed by size.
//
// Buffers handed out by Get are counted as outstanding until returned with
// Put. When a limit is set and every buffer is outstanding, Get fails rather
// than allocating, which models a device running out of surfaces.
type Pool struct {
	mu          sync.Mutex
	buckets     map[image.Point][]*image.RGBA
	maxPerSize  int
	limit       int
	outstanding int
	allocated   int
}

// NewPool creates a pool retaining at most maxPerSize idle buffers of each
// size and handing out at most limit buffers at once. A limit of 0 means
// unlimited.
func NewPool(maxPerSize, limit int) *Pool {
	return &Pool{
		buckets:    make(map[image.Point][]*image.RGBA),
		maxPerSize: maxPerSize,
		limit:      limit,
	}
}

// Get returns a buffer of the given size, reusing an idle one when possible.
// The second result is false when the outstanding limit has been reached.
func (p *Pool) Get(size image.Point) (*image.RGBA, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.outstanding >= p.limit {
		return nil, false
	}
	p.outstanding++

	bucket := p.buckets[size]
	if n := len(bucket); n > 0 {
		buf := bucket[n-1]
		p.buckets[size] = bucket[:n-1]
		return buf, true
	}
	p.allocated++
	return image.NewRGBA(image.Rectangle{Max: size}), true
}

// Put returns buf to the pool. A full bucket discards it.
func (p *Pool) Put(buf *image.RGBA) {
	if buf == nil {
		return
	}
	size := buf.Rect.Size()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.outstanding > 0 {
		p.outstanding--
	}
	bucket := p.buckets[size]
	if p.maxPerSize > 0 && len(bucket) >= p.maxPerSize {
		return
	}
	p.buckets[size] = append(bucket, buf)
}

// Allocated reports how many buffers the pool has created so far.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// Outstanding reports how many buffers are currently handed out.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}
