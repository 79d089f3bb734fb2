package rangefetch

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// concurrencyGate bounds the number of in-flight fetches to C_max.
// The supervisor acquires a permit before spawning each
// fetch worker; the worker releases it on its terminal transition.
type concurrencyGate struct {
	sem *semaphore.Weighted
}

func newConcurrencyGate(cMax int) *concurrencyGate {
	return &concurrencyGate{sem: semaphore.NewWeighted(int64(cMax))}
}

func (g *concurrencyGate) acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

func (g *concurrencyGate) release() {
	g.sem.Release(1)
}
