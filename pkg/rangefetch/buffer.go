package rangefetch

import "sync"

// bufferPool is a free list of segment-sized byte regions, returned to
// the pool the moment the sink write completes. The pool does not cap
// allocation: get allocates a new buffer whenever the free list is empty.
// Live buffers are bounded by the ordered queue's capacity (M_max) plus
// the one the sequencer is writing and the one the supervisor is
// enqueuing, so peak resident bytes is at most (M_max+2) * segSize.
//
// Buffers are reclaimed explicitly by the caller via put rather than left
// to the garbage collector.
type bufferPool struct {
	mu      sync.Mutex
	free    [][]byte
	segSize int64
	gets    int
	puts    int
}

func newBufferPool(segSize int64, maxBuffers int) *bufferPool {
	return &bufferPool{
		free:    make([][]byte, 0, maxBuffers),
		segSize: segSize,
	}
}

// get returns a zero-length buffer with at least segSize capacity, reusing
// a reclaimed one when available.
func (p *bufferPool) get() []byte {
	p.mu.Lock()
	p.gets++
	n := len(p.free)
	if n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return buf[:0]
	}
	p.mu.Unlock()
	return make([]byte, 0, p.segSize)
}

// outstanding reports how many buffers handed out by get have not yet been
// returned via put. A well-behaved run always ends at zero.
func (p *bufferPool) outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gets - p.puts
}

// put reclaims a buffer exactly once, per the segment buffer's ownership
// contract. Buffers whose capacity drifted below segSize (shouldn't
// happen, but cheap to guard) are simply dropped instead of pooled.
func (p *bufferPool) put(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.puts++
	if cap(buf) < int(p.segSize) {
		return
	}
	p.free = append(p.free, buf)
}
