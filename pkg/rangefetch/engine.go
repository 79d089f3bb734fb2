package rangefetch

import (
	"context"
	"fmt"
	"io"

	"github.com/chanzuckerberg/s3mi/pkg/credentials"
)

// Engine drives one Job to completion against one sink. It owns the
// concurrency gate, the ordered buffer queue, the buffer pool, and the
// error tally -- all instance state, so independent Engines never share
// mutable state.
type Engine struct {
	job   Job
	client RangeClient
	creds *credentials.Cache

	tally *errTally
	gate  *concurrencyGate
	queue *orderedQueue
	pool  *bufferPool
}

// New constructs an Engine for job, fetching through client and
// refreshing credentials through provider. job.CredentialRefreshMargin is
// the authoritative refresh window for the cache the Engine builds
// around provider; a nil provider falls back to the pass-through
// sentinel credentials.Cache uses when no provider is available.
func New(job Job, client RangeClient, provider credentials.Provider) *Engine {
	return &Engine{
		job:    job,
		client: client,
		creds:  credentials.NewCache(provider, job.CredentialRefreshMargin),
		tally:  newErrTally(),
		gate:   newConcurrencyGate(job.ConcurrencyCap),
		queue:  newOrderedQueue(job.MemoryCap),
		pool:   newBufferPool(job.SegmentSize, job.MemoryCap),
	}
}

// Run drives the planner, spawns fetch workers under gate and memory
// backpressure, and blocks until every segment has been emitted to sink in
// order (or the run aborts). It returns nil only if all S bytes were
// written; otherwise it returns the first fault observed.
func (e *Engine) Run(ctx context.Context, sink io.Writer) error {
	if e.job.Size < 0 {
		return fmt.Errorf("rangefetch: negative size %d", e.job.Size)
	}
	if e.job.SegmentCount() == 0 {
		return nil
	}

	seqCtx, seqCancel := context.WithCancel(ctx)
	defer seqCancel()

	seqErrCh := make(chan error, 1)
	go func() { seqErrCh <- e.runSequencer(seqCtx, sink) }()

	supervisorErr := e.supervise(ctx)

	// Always enqueue the sentinel so the sequencer can terminate and
	// every already-enqueued buffer gets drained and reclaimed, even on
	// abort. If the queue is still backed up and this attempt itself
	// times out, the sentinel will never arrive -- cancel the sequencer
	// directly instead of leaving it waiting on it forever.
	if err := e.queue.enqueue(ctx, queueItem{sentinel: true}, e.job.FetchTimeout); err != nil {
		seqCancel()
	}

	seqErr := <-seqErrCh

	if supervisorErr == nil {
		supervisorErr = seqErr
	}
	if supervisorErr == nil && e.tally.aborted() {
		supervisorErr = e.tally.firstFault()
	}
	return supervisorErr
}

// supervise is the supervisor loop: for each planner range
// it refreshes credentials, acquires a concurrency-gate permit, allocates
// a segment buffer and baton, spawns the fetch worker, and enqueues onto
// the ordered buffer queue. It stops issuing new fetches the moment the
// error tally turns non-zero.
func (e *Engine) supervise(ctx context.Context) error {
	plan := newPlanner(e.job.Size, e.job.SegmentSize)

	for {
		rng, ok := plan.next()
		if !ok {
			return nil
		}

		snap, err := e.creds.Current(ctx)
		if err != nil {
			fault := &Fault{Kind: CredentialFault, Segment: -1, Err: err}
			e.tally.record(fault)
			return fault
		}

		if e.tally.aborted() {
			return e.tally.firstFault()
		}

		if err := e.gate.acquire(ctx); err != nil {
			return err
		}
		if e.tally.aborted() {
			e.gate.release()
			return e.tally.firstFault()
		}

		buf := e.pool.get()
		fetchCtx, cancel := context.WithCancel(ctx)
		st := &segmentState{
			rng:         rng,
			buf:         buf[:rng.Length()],
			baton:       newBaton(),
			fetchDone:   make(chan struct{}),
			cancelFetch: cancel,
		}

		go e.runFetch(fetchCtx, st, snap)

		if err := e.queue.enqueue(ctx, queueItem{state: st}, e.job.FetchTimeout); err != nil {
			cancel()
			<-st.fetchDone
			e.pool.put(st.buf)
			if fault, ok := err.(*Fault); ok {
				e.tally.record(fault)
				return fault
			}
			return err
		}
	}
}
