package tiercache

import (
	"context"
	"errors"
	"os"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func mustNewCoordinator[T any](t *testing.T, dir string, opts ...Option) *Coordinator[T] {
	t.Helper()
	c, err := New(dir, JSONCodec[T]{}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// countingProducer returns a producer yielding value and the counter it
// bumps on every invocation.
func countingProducer[T any](value T) (Producer[T], *atomic.Int32) {
	var calls atomic.Int32
	return func(_ context.Context) (T, error) {
		calls.Add(1)
		return value, nil
	}, &calls
}

func TestCoordinator_MissThenMemoryHit(t *testing.T) {
	c := mustNewCoordinator[[]string](t, t.TempDir())
	ctx := context.Background()

	fruits := []string{"apple", "banana", "cherry"}
	producer, calls := countingProducer(fruits)

	res, err := c.Get(ctx, "fruits", time.Minute, 300*time.Second, producer)
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	if res.Source != SourceProducer || res.Freshness != Fresh {
		t.Fatalf("first call: source=%v freshness=%v, want producer/fresh", res.Source, res.Freshness)
	}
	if !reflect.DeepEqual(res.Data, fruits) {
		t.Fatalf("got %v, want %v", res.Data, fruits)
	}

	res, err = c.Get(ctx, "fruits", time.Minute, 300*time.Second, producer)
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if res.Source != SourceMemory || res.Freshness != Fresh {
		t.Fatalf("second call: source=%v freshness=%v, want memory/fresh", res.Source, res.Freshness)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("producer called %d times, want 1", got)
	}
}

func TestCoordinator_DiskHitAfterRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c1 := mustNewCoordinator[string](t, dir)
	producer, calls := countingProducer("persisted")
	if _, err := c1.Get(ctx, "k", time.Minute, time.Hour, producer); err != nil {
		t.Fatalf("Get (populate): %v", err)
	}
	c1.Close()

	// A fresh coordinator has an empty memory tier but the disk entry
	// survives, so the first read promotes it and the second is in-memory.
	c2 := mustNewCoordinator[string](t, dir)
	res, err := c2.Get(ctx, "k", time.Minute, time.Hour, producer)
	if err != nil {
		t.Fatalf("Get (disk): %v", err)
	}
	if res.Source != SourceDisk || res.Freshness != Fresh {
		t.Fatalf("source=%v freshness=%v, want disk/fresh", res.Source, res.Freshness)
	}
	if res.Data != "persisted" {
		t.Fatalf("got %q, want %q", res.Data, "persisted")
	}

	res, err = c2.Get(ctx, "k", time.Minute, time.Hour, producer)
	if err != nil {
		t.Fatalf("Get (memory): %v", err)
	}
	if res.Source != SourceMemory {
		t.Fatalf("source = %v, want memory", res.Source)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("producer called %d times, want 1", got)
	}
}

func TestCoordinator_StaleWhileRevalidate(t *testing.T) {
	c := mustNewCoordinator[string](t, t.TempDir())
	ctx := context.Background()

	var calls atomic.Int32
	producer := func(_ context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "v1", nil
		}
		return "v2", nil
	}

	base := time.Now()
	c.now = func() time.Time { return base }
	c.disk.now = c.now

	res, err := c.Get(ctx, "k", time.Second, 2*time.Second, producer)
	if err != nil {
		t.Fatalf("Get (populate): %v", err)
	}
	if res.Data != "v1" || res.Source != SourceProducer {
		t.Fatalf("got %q from %v, want v1 from producer", res.Data, res.Source)
	}

	// Jump past both TTLs: the disk entry still exists but is expired, so
	// the caller gets the stale value back without blocking.
	later := base.Add(5 * time.Second)
	c.now = func() time.Time { return later }
	c.disk.now = c.now

	res, err = c.Get(ctx, "k", time.Second, 2*time.Second, producer)
	if err != nil {
		t.Fatalf("Get (stale): %v", err)
	}
	if res.Freshness != Stale || res.Source != SourceDisk {
		t.Fatalf("source=%v freshness=%v, want disk/stale", res.Source, res.Freshness)
	}
	if res.Data != "v1" {
		t.Fatalf("stale value = %q, want v1", res.Data)
	}

	// The background refresh runs exactly once.
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("producer called %d times, want 2", got)
	}
	c.refreshes.Wait()

	res, err = c.Get(ctx, "k", time.Second, 2*time.Second, producer)
	if err != nil {
		t.Fatalf("Get (refreshed): %v", err)
	}
	if res.Freshness != Fresh {
		t.Fatalf("freshness = %v after refresh, want fresh", res.Freshness)
	}
	if res.Data != "v2" {
		t.Fatalf("got %q after refresh, want v2", res.Data)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("producer called %d times during sequence, want 2", got)
	}

	if st := c.Stats(); st.StaleHits != 1 {
		t.Fatalf("stale hits = %d, want 1", st.StaleHits)
	}
}

func TestCoordinator_RefreshFailureKeepsStaleEntry(t *testing.T) {
	c := mustNewCoordinator[string](t, t.TempDir())
	ctx := context.Background()

	var calls atomic.Int32
	producer := func(_ context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "v1", nil
		}
		return "", errors.New("refresh failed")
	}

	base := time.Now()
	c.now = func() time.Time { return base }
	c.disk.now = c.now
	if _, err := c.Get(ctx, "k", time.Second, time.Second, producer); err != nil {
		t.Fatalf("Get (populate): %v", err)
	}

	later := base.Add(time.Minute)
	c.now = func() time.Time { return later }
	c.disk.now = c.now

	res, err := c.Get(ctx, "k", time.Second, time.Second, producer)
	if err != nil {
		t.Fatalf("Get (stale): %v", err)
	}
	if res.Freshness != Stale || res.Data != "v1" {
		t.Fatalf("got %q/%v, want stale v1", res.Data, res.Freshness)
	}
	c.refreshes.Wait()

	// The failed refresh left the stale entry in place for the next call.
	res, err = c.Get(ctx, "k", time.Second, time.Second, producer)
	if err != nil {
		t.Fatalf("Get (retry): %v", err)
	}
	if res.Freshness != Stale || res.Data != "v1" {
		t.Fatalf("got %q/%v after failed refresh, want stale v1", res.Data, res.Freshness)
	}
}

func TestCoordinator_ProducerErrorPropagates(t *testing.T) {
	c := mustNewCoordinator[string](t, t.TempDir())
	ctx := context.Background()

	wantErr := errors.New("query failed")
	var calls atomic.Int32
	producer := func(_ context.Context) (string, error) {
		calls.Add(1)
		return "", wantErr
	}

	if _, err := c.Get(ctx, "k", time.Minute, time.Hour, producer); !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}

	// Nothing was cached, so the next call asks the producer again.
	if _, err := c.Get(ctx, "k", time.Minute, time.Hour, producer); !errors.Is(err, wantErr) {
		t.Fatalf("got %v on retry, want %v", err, wantErr)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("producer called %d times, want 2", got)
	}
	if st := c.Stats(); st.Misses != 2 {
		t.Fatalf("misses = %d, want 2", st.Misses)
	}
}

func TestCoordinator_DiskWriteFailureStillServes(t *testing.T) {
	dir := t.TempDir()
	c := mustNewCoordinator[string](t, dir)
	ctx := context.Background()

	// Pull the directory out from under the store; persisting will fail
	// but the caller must still get the produced value.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("removing cache dir: %v", err)
	}

	producer, _ := countingProducer("best effort")
	res, err := c.Get(ctx, "k", time.Minute, time.Hour, producer)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Data != "best effort" || res.Source != SourceProducer {
		t.Fatalf("got %q from %v, want value from producer", res.Data, res.Source)
	}

	// The value still landed in the memory tier.
	res, err = c.Get(ctx, "k", time.Minute, time.Hour, producer)
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if res.Source != SourceMemory {
		t.Fatalf("source = %v, want memory", res.Source)
	}
}

func TestCoordinator_InvalidateAll(t *testing.T) {
	c := mustNewCoordinator[string](t, t.TempDir())
	ctx := context.Background()

	producer, calls := countingProducer("v")
	if _, err := c.Get(ctx, "k", time.Minute, time.Hour, producer); err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	if err := c.InvalidateAll(); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}

	res, err := c.Get(ctx, "k", time.Minute, time.Hour, producer)
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if res.Source != SourceProducer {
		t.Fatalf("source = %v after InvalidateAll, want producer", res.Source)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("producer called %d times, want 2", got)
	}
}

func TestCoordinator_RefreshLimitSkipsRefresh(t *testing.T) {
	// A zero-rate limiter never grants a token, so stale hits are served
	// without ever scheduling a refresh.
	c := mustNewCoordinator[string](t, t.TempDir(), WithRefreshLimit(0, 0))
	ctx := context.Background()

	producer, calls := countingProducer("v1")

	base := time.Now()
	c.now = func() time.Time { return base }
	c.disk.now = c.now
	if _, err := c.Get(ctx, "k", time.Second, time.Second, producer); err != nil {
		t.Fatalf("Get (populate): %v", err)
	}

	later := base.Add(time.Minute)
	c.now = func() time.Time { return later }
	c.disk.now = c.now

	res, err := c.Get(ctx, "k", time.Second, time.Second, producer)
	if err != nil {
		t.Fatalf("Get (stale): %v", err)
	}
	if res.Freshness != Stale {
		t.Fatalf("freshness = %v, want stale", res.Freshness)
	}
	c.refreshes.Wait()
	if got := calls.Load(); got != 1 {
		t.Fatalf("producer called %d times, want 1 (refresh throttled)", got)
	}
}

func TestCoordinator_ScenarioFruitsFromDisk(t *testing.T) {
	c := mustNewCoordinator[[]string](t, t.TempDir())
	ctx := context.Background()

	fruits := []string{"apple", "banana", "cherry"}
	if err := c.disk.Save(fruits, "fruits", 300*time.Second); err != nil {
		t.Fatalf("Save: %v", err)
	}
	e, ok := c.disk.Get("fruits")
	if !ok || !reflect.DeepEqual(e.Data, fruits) {
		t.Fatalf("disk round trip: got %v/%v", e.Data, ok)
	}

	producer := func(_ context.Context) ([]string, error) {
		t.Error("producer must not run: disk already holds the value")
		return nil, nil
	}

	res, err := c.Get(ctx, "fruits", time.Minute, 300*time.Second, producer)
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	if res.Source != SourceDisk || !reflect.DeepEqual(res.Data, fruits) {
		t.Fatalf("got %v from %v, want fruits from disk", res.Data, res.Source)
	}

	res, err = c.Get(ctx, "fruits", time.Minute, 300*time.Second, producer)
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if res.Source != SourceMemory {
		t.Fatalf("source = %v on second call, want memory", res.Source)
	}
}

func TestCoordinator_CleanupLoopRemovesExpired(t *testing.T) {
	c := mustNewCoordinator[string](t, t.TempDir(), WithCleanupInterval(20*time.Millisecond))

	if err := c.disk.Save("soon gone", "k", 10*time.Millisecond); err != nil {
		t.Fatalf("Save: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Stats().Disk.Expired == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cleanup loop never removed the expired entry: %+v", c.Stats().Disk)
}

func TestCoordinator_StatsSumConsistently(t *testing.T) {
	c := mustNewCoordinator[string](t, t.TempDir())
	ctx := context.Background()

	producer, _ := countingProducer("v")
	for i := 0; i < 5; i++ {
		if _, err := c.Get(ctx, "k", time.Minute, time.Hour, producer); err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
	}

	st := c.Stats()
	if st.TotalRequests != 5 {
		t.Fatalf("total = %d, want 5", st.TotalRequests)
	}
	if sum := st.MemoryHits + st.DiskHits + st.StaleHits + st.Misses; sum != st.TotalRequests {
		t.Fatalf("outcome counters sum to %d, want %d", sum, st.TotalRequests)
	}
	if st.Misses != 1 || st.MemoryHits != 4 {
		t.Fatalf("misses=%d memoryHits=%d, want 1/4", st.Misses, st.MemoryHits)
	}
	if rate := st.OverallHitRate(); rate != 0.8 {
		t.Fatalf("hit rate = %f, want 0.8", rate)
	}
}
