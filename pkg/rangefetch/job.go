// Package rangefetch implements the parallel ranged-fetch pipeline and
// ordered-reassembly engine: it issues many concurrent HTTP range requests
// against a single large remote object and writes the bytes back out to a
// sink in strictly increasing offset order.
package rangefetch

import "time"

// Locator addresses a single remote object by bucket and key.
type Locator struct {
	Bucket string
	Key    string
}

// Range is a half-open-by-construction, inclusive-on-the-wire byte range:
// it covers [First, LastInclusive] on the object-store's range protocol,
// which is [First, LastInclusive+1) of the object.
type Range struct {
	Index         int
	First         int64
	LastInclusive int64
}

// Length returns L_n, the number of bytes the range covers.
func (r Range) Length() int64 {
	return r.LastInclusive - r.First + 1
}

// Job describes one immutable transfer: a source object, how to slice it,
// and the backpressure/timeout knobs that bound the engine's resource use.
type Job struct {
	Locator Locator
	// Size is S, the total object size in bytes.
	Size int64
	// SegmentSize is Z, the number of bytes requested per range fetch.
	SegmentSize int64
	// ConcurrencyCap is C_max, the maximum number of in-flight fetches.
	ConcurrencyCap int
	// MemoryCap is M_max, the maximum number of buffered segments.
	MemoryCap int
	// FetchTimeout is T, the per-fetch inactivity bound. It also bounds
	// the supervisor's enqueue wait and the sequencer's per-segment wait.
	FetchTimeout time.Duration
	// CredentialRefreshMargin is R, the credential cache's refresh window.
	CredentialRefreshMargin time.Duration

	// OnSegmentEmitted, if set, is called by the sequencer immediately
	// after segment n's bytes are written to the sink. It is an
	// observability hook only; it never gates the pipeline and must not
	// block for long.
	OnSegmentEmitted func(index int, length int64)
}

// SegmentCount returns N = ceil(S/Z), or 0 when S == 0.
func (j Job) SegmentCount() int {
	if j.Size <= 0 {
		return 0
	}
	return int((j.Size + j.SegmentSize - 1) / j.SegmentSize)
}

// planner produces the ordered sequence of ranges covering [0, S) lazily,
// one call to next() at a time.
type planner struct {
	size    int64
	segSize int64
	n       int
	total   int
}

func newPlanner(size, segSize int64) *planner {
	p := &planner{size: size, segSize: segSize}
	if size > 0 {
		p.total = int((size + segSize - 1) / segSize)
	}
	return p
}

// next returns the next range in planner order, or ok=false once the
// sequence is exhausted.
func (p *planner) next() (Range, bool) {
	if p.n >= p.total {
		return Range{}, false
	}
	n := p.n
	p.n++
	first := int64(n) * p.segSize
	last := first + p.segSize - 1
	if end := first + p.segSize; end > p.size {
		last = p.size - 1
	}
	return Range{Index: n, First: first, LastInclusive: last}, true
}
