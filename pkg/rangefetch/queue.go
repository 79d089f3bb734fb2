package rangefetch

import (
	"context"
	"time"
)

// baton is the single-use "your turn" signal handed from the sequencer to
// a segment's consumer. Closing it is the release; since this engine lets
// the sequencer itself perform the sink write, nothing waits on the baton:
// it marks the ordering handoff rather than unblocking a separate
// consumer goroutine.
type baton chan struct{}

func newBaton() baton {
	return make(baton)
}

func (b baton) release() {
	close(b)
}

// segmentState tracks one segment's journey from PENDING through its
// terminal state. One segmentState is created per segment by the
// supervisor and consumed exactly once by the sequencer.
type segmentState struct {
	rng   Range
	buf   []byte
	baton baton

	fetchDone  chan struct{}
	result     fetchResult
	cancelFetch context.CancelFunc
}

// queueItem is the unit exchanged over the ordered buffer queue. A
// sentinel item (sentinel=true) marks end-of-stream.
type queueItem struct {
	state    *segmentState
	sentinel bool
}

// orderedQueue is the bounded FIFO of (segment_index, segment_state) items.
// Its capacity is M_max: the producer (supervisor) blocks
// when full, which is the engine's memory backpressure. Only the
// supervisor enqueues and only the sequencer dequeues.
type orderedQueue struct {
	ch chan queueItem
}

func newOrderedQueue(mMax int) *orderedQueue {
	return &orderedQueue{ch: make(chan queueItem, mMax)}
}

// enqueue blocks until there is room, the context is cancelled, or timeout
// elapses without room becoming available -- the latter is a
// BackpressureTimeoutFault per the error handling design.
func (q *orderedQueue) enqueue(ctx context.Context, item queueItem, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		seg := -1
		if item.state != nil {
			seg = item.state.rng.Index
		}
		return &Fault{Kind: BackpressureTimeoutFault, Segment: seg, Err: context.DeadlineExceeded}
	}
}

func (q *orderedQueue) dequeue(ctx context.Context) (queueItem, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return queueItem{}, ctx.Err()
	}
}
