package rangefetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chanzuckerberg/s3mi/pkg/credentials"
)

// fakeClient serves deterministic bytes for any range, optionally failing
// or stalling specific segment indexes.
type fakeClient struct {
	data []byte

	mu        sync.Mutex
	failAt    map[int]error
	stallAt   map[int]bool
	callCount map[int]int
}

func newFakeClient(size int) *fakeClient {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	return &fakeClient{
		data:      data,
		failAt:    map[int]error{},
		stallAt:   map[int]bool{},
		callCount: map[int]int{},
	}
}

func (f *fakeClient) Fetch(ctx context.Context, loc Locator, rng Range, snap credentials.Snapshot) (io.ReadCloser, error) {
	f.mu.Lock()
	f.callCount[rng.Index]++
	failErr, shouldFail := f.failAt[rng.Index]
	stall := f.stallAt[rng.Index]
	f.mu.Unlock()

	if shouldFail {
		return nil, failErr
	}
	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	return io.NopCloser(bytes.NewReader(f.data[rng.First : rng.LastInclusive+1])), nil
}

func testJob(size, segSize int64) Job {
	return Job{
		Locator:                 Locator{Bucket: "b", Key: "k"},
		Size:                    size,
		SegmentSize:             segSize,
		ConcurrencyCap:          4,
		MemoryCap:               4,
		FetchTimeout:            2 * time.Second,
		CredentialRefreshMargin: time.Minute,
	}
}

func noCreds() credentials.Provider {
	return nil
}

func TestRunFullSuccess(t *testing.T) {
	const size = 1000
	const segSize = 300
	client := newFakeClient(size)
	job := testJob(size, segSize)

	var sink bytes.Buffer
	engine := New(job, client, noCreds())
	if err := engine.Run(context.Background(), &sink); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !bytes.Equal(sink.Bytes(), client.data) {
		t.Fatalf("sink content mismatch: got %d bytes, want %d", sink.Len(), len(client.data))
	}
}

func TestRunZeroSize(t *testing.T) {
	client := newFakeClient(0)
	job := testJob(0, 300)

	var sink bytes.Buffer
	engine := New(job, client, noCreds())
	if err := engine.Run(context.Background(), &sink); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sink.Len() != 0 {
		t.Fatalf("expected empty sink, got %d bytes", sink.Len())
	}
}

func TestRunSizeEqualsSegmentSize(t *testing.T) {
	const size = 300
	client := newFakeClient(size)
	job := testJob(size, size)

	var sink bytes.Buffer
	engine := New(job, client, noCreds())
	if err := engine.Run(context.Background(), &sink); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if job.SegmentCount() != 1 {
		t.Fatalf("expected 1 segment, got %d", job.SegmentCount())
	}
	if !bytes.Equal(sink.Bytes(), client.data) {
		t.Fatalf("sink content mismatch")
	}
}

func TestRunNonMultipleFinalSegment(t *testing.T) {
	const size = 1001
	const segSize = 300
	client := newFakeClient(size)
	job := testJob(size, segSize)

	if got, want := job.SegmentCount(), 4; got != want {
		t.Fatalf("SegmentCount() = %d, want %d", got, want)
	}

	var sink bytes.Buffer
	engine := New(job, client, noCreds())
	if err := engine.Run(context.Background(), &sink); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if sink.Len() != size {
		t.Fatalf("sink length = %d, want %d", sink.Len(), size)
	}
	if !bytes.Equal(sink.Bytes(), client.data) {
		t.Fatalf("sink content mismatch")
	}
}

func TestRunMidTransferFailureEmitsOnlyPrefix(t *testing.T) {
	const size = 1000
	const segSize = 100 // 10 segments, indexes 0..9
	client := newFakeClient(size)
	client.failAt[5] = errors.New("simulated transport failure")
	job := testJob(size, segSize)
	job.ConcurrencyCap = 1 // force strictly sequential fetch order

	var sink bytes.Buffer
	engine := New(job, client, noCreds())
	err := engine.Run(context.Background(), &sink)
	if err == nil {
		t.Fatalf("expected Run to return an error")
	}
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *Fault, got %T: %v", err, err)
	}
	if fault.Kind != TransportFault {
		t.Fatalf("expected TransportFault, got %v", fault.Kind)
	}

	wantLen := 5 * segSize // segments 0..4 only
	if sink.Len() != wantLen {
		t.Fatalf("sink length = %d, want %d (exactly the segments before the failure)", sink.Len(), wantLen)
	}
	if !bytes.Equal(sink.Bytes(), client.data[:wantLen]) {
		t.Fatalf("emitted prefix does not match source bytes")
	}
}

func TestRunStallTriggersWatchdog(t *testing.T) {
	const size = 600
	const segSize = 200 // 3 segments
	client := newFakeClient(size)
	client.stallAt[1] = true
	job := testJob(size, segSize)
	job.FetchTimeout = 100 * time.Millisecond
	job.ConcurrencyCap = 1

	var sink bytes.Buffer
	engine := New(job, client, noCreds())

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background(), &sink) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected an error from the stalled segment")
		}
		var fault *Fault
		if !errors.As(err, &fault) {
			t.Fatalf("expected *Fault, got %T: %v", err, err)
		}
		if fault.Kind != StallFault {
			t.Fatalf("expected StallFault, got %v", fault.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return within the expected watchdog bound")
	}
}

func TestRunCredentialRefreshMidRun(t *testing.T) {
	const size = 900
	const segSize = 100 // 9 segments
	client := newFakeClient(size)
	job := testJob(size, segSize)

	provider := &countingProvider{}

	var sink bytes.Buffer
	engine := New(job, client, provider)
	if err := engine.Run(context.Background(), &sink); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if want := job.SegmentCount(); provider.calls != want {
		t.Fatalf("provider called %d times, want %d (every snapshot is inside the refresh margin, so each segment refreshes)", provider.calls, want)
	}
	if !bytes.Equal(sink.Bytes(), client.data) {
		t.Fatalf("sink content mismatch")
	}
}

// slowOnceSink stalls the sequencer on its first Write for longer than a
// single FetchTimeout, so the supervisor's ordered queue (capacity 1) backs
// up behind it and a later enqueue call times out.
type slowOnceSink struct {
	mu     sync.Mutex
	delay  time.Duration
	writes int
	buf    bytes.Buffer
}

func (s *slowOnceSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	first := s.writes == 0
	s.writes++
	s.mu.Unlock()
	if first {
		time.Sleep(s.delay)
	}
	return s.buf.Write(p)
}

func TestRunBackpressureTimeoutFault(t *testing.T) {
	const size = 600
	const segSize = 100 // 6 segments, indexes 0..5
	client := newFakeClient(size)
	job := testJob(size, segSize)
	job.FetchTimeout = 50 * time.Millisecond
	job.MemoryCap = 1
	job.ConcurrencyCap = 6

	sink := &slowOnceSink{delay: 300 * time.Millisecond}
	engine := New(job, client, noCreds())

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background(), sink) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected Run to return an error")
		}
		var fault *Fault
		if !errors.As(err, &fault) {
			t.Fatalf("expected *Fault, got %T: %v", err, err)
		}
		if fault.Kind != BackpressureTimeoutFault {
			t.Fatalf("expected BackpressureTimeoutFault, got %v", fault.Kind)
		}
		if outstanding := engine.pool.outstanding(); outstanding != 0 {
			t.Fatalf("expected every segment buffer to be reclaimed, %d still outstanding", outstanding)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return; the sequencer or a fetch worker is stuck")
	}
}

// countingProvider hands out snapshots that expire within the test job's
// one-minute refresh margin, so the cache refreshes before every segment.
type countingProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) Retrieve(ctx context.Context) (credentials.Snapshot, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return credentials.Snapshot{AccessKeyID: "AKIAFAKE", SecretAccessKey: "secret", Region: "us-east-1", Expiration: time.Now().Add(30 * time.Second)}, nil
}

type failingSink struct {
	failAfter int
	written   int
}

func (s *failingSink) Write(p []byte) (int, error) {
	if s.written >= s.failAfter {
		return 0, fmt.Errorf("simulated disk full")
	}
	s.written += len(p)
	return len(p), nil
}

func TestRunSinkFailure(t *testing.T) {
	const size = 500
	const segSize = 100 // 5 segments
	client := newFakeClient(size)
	job := testJob(size, segSize)
	job.ConcurrencyCap = 1

	sink := &failingSink{failAfter: 200} // first two segments succeed, third fails
	engine := New(job, client, noCreds())
	err := engine.Run(context.Background(), sink)
	if err == nil {
		t.Fatalf("expected Run to return an error")
	}
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *Fault, got %T: %v", err, err)
	}
	if fault.Kind != SinkFault {
		t.Fatalf("expected SinkFault, got %v", fault.Kind)
	}
}
