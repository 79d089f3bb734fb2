package rangefetch

import (
	"context"
	"io"
	"time"
)

// runSequencer is the single consumer. It drains the
// ordered queue in planner order, writes each segment's bytes to the sink
// in a single write, and reclaims the buffer -- guaranteeing the sink
// receives segments in exactly planner order regardless of fetch
// completion order.
func (e *Engine) runSequencer(ctx context.Context, sink io.Writer) error {
	for {
		item, err := e.queue.dequeue(ctx)
		if err != nil {
			// Cancelled: reclaim every buffer still queued so none leaks.
			for {
				select {
				case rest := <-e.queue.ch:
					if rest.state != nil {
						rest.state.cancelFetch()
						<-rest.state.fetchDone
						e.pool.put(rest.state.buf)
					}
				default:
					return err
				}
			}
		}
		if item.sentinel {
			return nil
		}

		st := item.state
		st.baton.release()

		e.awaitFetch(ctx, st)

		if e.tally.aborted() {
			// The run is already aborted: no segment may be emitted past
			// this point. Still reclaim the buffer so nothing leaks.
			e.pool.put(st.buf)
			continue
		}

		if !st.result.ok {
			// The fault was already recorded by the fetch worker; just
			// stop emitting and keep draining to reclaim later buffers.
			e.pool.put(st.buf)
			continue
		}

		if _, err := sink.Write(st.buf); err != nil {
			e.tally.record(&Fault{Kind: SinkFault, Segment: st.rng.Index, Err: err})
			e.pool.put(st.buf)
			continue
		}

		if e.job.OnSegmentEmitted != nil {
			e.job.OnSegmentEmitted(st.rng.Index, int64(len(st.buf)))
		}
		e.pool.put(st.buf)
	}
}

// awaitFetch waits for a segment's fetch to finish, polling at intervals
// up to a total wait of T. If the error tally turns non-zero while
// waiting, it terminates the segment's worker. If T elapses first, it
// records a StallFault for the segment and then terminates the worker.
func (e *Engine) awaitFetch(ctx context.Context, st *segmentState) {
	deadline := time.Now().Add(e.job.FetchTimeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-st.fetchDone:
			return
		case <-ctx.Done():
			if st.cancelFetch != nil {
				st.cancelFetch()
			}
			<-st.fetchDone
			return
		case <-ticker.C:
			if e.tally.aborted() {
				// Another segment already faulted; this one is
				// terminated too. If the cancellation makes its fetch
				// fail, its own termination path records that fault; a
				// fetch that completes regardless adds nothing.
				if st.cancelFetch != nil {
					st.cancelFetch()
				}
				<-st.fetchDone
				return
			}
			if time.Now().After(deadline) {
				// T elapsed on this segment specifically: count it as
				// a stall before terminating it. Cancelling its
				// in-flight GET then also drives the worker's own
				// fault recording.
				e.tally.record(&Fault{Kind: StallFault, Segment: st.rng.Index, Err: context.DeadlineExceeded})
				if st.cancelFetch != nil {
					st.cancelFetch()
				}
				<-st.fetchDone
				return
			}
		}
	}
}
