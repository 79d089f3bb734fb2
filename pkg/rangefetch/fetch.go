package rangefetch

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/chanzuckerberg/s3mi/pkg/credentials"
)

// RangeClient is the source API collaborator: it executes one ranged GET
// and returns the response body. Implementations must honor ctx
// cancellation on the returned body's Read calls (the watchdog relies on
// this to terminate a stalled fetch).
type RangeClient interface {
	Fetch(ctx context.Context, loc Locator, rng Range, snap credentials.Snapshot) (io.ReadCloser, error)
}

// fetchResult is the terminal outcome of one fetch worker.
type fetchResult struct {
	ok  bool
	err error
}

// progressReader stamps lastNano every time a Read makes progress, so a
// watchdog goroutine can detect inactivity without instrumenting the
// transport itself.
type progressReader struct {
	r        io.Reader
	lastNano *int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		atomic.StoreInt64(p.lastNano, time.Now().UnixNano())
	}
	return n, err
}

// runFetch executes one ranged GET into item.buf. It always
// releases the concurrency-gate permit and closes item.fetchDone exactly
// once, regardless of outcome.
func (e *Engine) runFetch(ctx context.Context, item *segmentState, snap credentials.Snapshot) {
	defer e.gate.release()
	defer close(item.fetchDone)

	lastNano := time.Now().UnixNano()
	watchdogDone := make(chan struct{})
	timedOut := make(chan struct{})
	go e.watchdog(ctx, &lastNano, watchdogDone, timedOut, item.cancelFetch)
	defer close(watchdogDone)

	length := item.rng.Length()

	body, err := e.client.Fetch(ctx, e.job.Locator, item.rng, snap)
	if err != nil {
		item.result = e.fetchFailure(item.rng.Index, timedOut, err)
		return
	}
	defer body.Close()

	pr := &progressReader{r: body, lastNano: &lastNano}
	buf := item.buf[:length]
	// io.ReadFull returns a nil error only once it has filled buf exactly,
	// so a partial (or, when length > 0, empty) response already surfaces
	// here as io.ErrUnexpectedEOF or io.EOF -- never a silent truncation.
	if _, err := io.ReadFull(pr, buf); err != nil {
		item.result = e.fetchFailure(item.rng.Index, timedOut, err)
		return
	}

	item.buf = buf
	item.result = fetchResult{ok: true}
}

// watchdog arms the per-fetch inactivity timeout T: if lastNano goes stale
// for longer than T, it cancels the fetch's context so the in-flight read
// unblocks with an error, and marks the termination as a stall rather than
// a plain transport fault.
func (e *Engine) watchdog(ctx context.Context, lastNano *int64, done, timedOut chan struct{}, cancel context.CancelFunc) {
	interval := e.job.FetchTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, atomic.LoadInt64(lastNano))
			if time.Since(last) >= e.job.FetchTimeout {
				close(timedOut)
				cancel()
				return
			}
		}
	}
}

// fetchFailure classifies a terminated fetch as a stall (watchdog fired)
// or a plain transport fault, records it on the shared tally exactly
// once, and returns the terminal result.
func (e *Engine) fetchFailure(segment int, timedOut chan struct{}, err error) fetchResult {
	kind := TransportFault
	select {
	case <-timedOut:
		kind = StallFault
	default:
	}
	fault := &Fault{Kind: kind, Segment: segment, Err: err}
	e.tally.record(fault)
	return fetchResult{ok: false, err: fault}
}
