package tiercache

import (
	"context"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// Flight collapses concurrent producer calls for the same key into a single
// execution. All callers that arrive while a producer is in flight attach to
// it and observe the identical outcome, success or failure; the deduplicator
// never retries on a waiter's behalf. Producers run outside the in-flight
// registry's lock, so unrelated keys always make independent progress.
type Flight[T any] struct {
	group singleflight.Group

	total atomic.Uint64
	execs atomic.Uint64
}

// NewFlight creates an empty in-flight registry.
func NewFlight[T any]() *Flight[T] {
	return &Flight[T]{}
}

// Do returns the producer's result for key, invoking it at most once no
// matter how many callers ask concurrently. The producer receives the
// context of the caller that started the flight; later callers share its
// outcome.
func (f *Flight[T]) Do(ctx context.Context, key string, producer func(context.Context) (T, error)) (T, error) {
	f.total.Inc()
	v, err, _ := f.group.Do(key, func() (any, error) {
		f.execs.Inc()
		return producer(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Stats returns the registry's counters. Deduplicated requests are those
// that attached to an already in-flight producer instead of starting one.
func (f *Flight[T]) Stats() FlightStats {
	total := f.total.Load()
	execs := f.execs.Load()
	var dedup uint64
	if total > execs {
		dedup = total - execs
	}
	return FlightStats{
		TotalRequests:        total,
		DeduplicatedRequests: dedup,
	}
}
