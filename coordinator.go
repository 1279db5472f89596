// Package tiercache provides a two-tier read-through cache for a single
// process: a count-bounded in-memory tier layered over a size-bounded
// on-disk tier, with per-call TTLs, stale-while-revalidate, and
// deduplication of concurrent producer calls.
package tiercache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Producer is the caller-supplied fresh fetch for one key: a fallible,
// idempotent function producing the value to cache. Failures are propagated
// verbatim to every caller that waited on the call; the cache never retries
// on a caller's behalf.
type Producer[T any] func(ctx context.Context) (T, error)

// Coordinator is the single entry point combining both tiers and the
// deduplicator behind one read-through/write-through policy. Construct one
// per cache directory at the composition root and share it; all methods are
// safe for concurrent use.
type Coordinator[T any] struct {
	mem    *MemoryCache[T]
	disk   *DiskStore[T]
	flight *Flight[T]

	logger         *slog.Logger
	now            func() time.Time
	tracing        *TracingConfig
	refreshLimit   *rate.Limiter
	refreshTimeout time.Duration

	counters  coordCounters
	refreshes sync.WaitGroup

	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a Coordinator whose durable tier lives under dir. The codec
// converts values to and from the on-disk byte form.
func New[T any](dir string, codec Codec[T], opts ...Option) (*Coordinator[T], error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	mem, err := NewMemoryCache[T](cfg.maxMemoryEntries)
	if err != nil {
		return nil, err
	}
	disk, err := NewDiskStore(dir, codec, cfg.maxDiskBytes)
	if err != nil {
		mem.Close()
		return nil, err
	}

	c := &Coordinator[T]{
		mem:            mem,
		disk:           disk,
		flight:         NewFlight[T](),
		logger:         cfg.logger,
		now:            time.Now,
		tracing:        cfg.tracing,
		refreshLimit:   cfg.refreshLimit,
		refreshTimeout: cfg.refreshTimeout,
		stop:           make(chan struct{}),
	}
	if cfg.cleanupInterval > 0 {
		go c.cleanupLoop(cfg.cleanupInterval)
	}
	return c, nil
}

// Get returns the value for key, preferring the memory tier, then the disk
// tier, then the producer. An unexpired memory entry is served as-is. An
// unexpired disk entry is promoted into the memory tier with memoryTTL. An
// expired disk entry is served immediately as Stale while a deduplicated
// refresh runs in the background. Only when neither tier has any entry does
// the caller wait on the producer; concurrent callers for the same key share
// a single producer invocation.
//
// Get fails only when the producer fails and no cached value exists.
func (c *Coordinator[T]) Get(ctx context.Context, key string, memoryTTL, diskTTL time.Duration, producer Producer[T]) (Result[T], error) {
	if c.tracing == nil {
		return c.serve(ctx, key, memoryTTL, diskTTL, producer)
	}

	ctx, span := c.tracing.start(ctx)
	defer span.End()
	res, err := c.serve(ctx, key, memoryTTL, diskTTL, producer)
	annotateSpan(span, key, res.Source, res.Freshness, err)
	return res, err
}

func (c *Coordinator[T]) serve(ctx context.Context, key string, memoryTTL, diskTTL time.Duration, producer Producer[T]) (Result[T], error) {
	c.counters.total.Inc()
	now := c.now()

	if e, ok := c.mem.Get(key); ok && !e.Expired(now) {
		c.counters.memoryHits.Inc()
		return Result[T]{Data: e.Data, Freshness: Fresh, Source: SourceMemory}, nil
	}

	if e, ok := c.disk.Get(key); ok {
		if !e.Expired(now) {
			c.mem.Put(key, newEntry(e.Data, now, memoryTTL, e.SizeBytes))
			c.counters.diskHits.Inc()
			return Result[T]{Data: e.Data, Freshness: Fresh, Source: SourceDisk}, nil
		}
		c.counters.staleHits.Inc()
		c.scheduleRefresh(key, memoryTTL, diskTTL, producer)
		return Result[T]{Data: e.Data, Freshness: Stale, Source: SourceDisk}, nil
	}

	c.counters.misses.Inc()
	v, err := c.flight.Do(ctx, key, c.writingThrough(key, memoryTTL, diskTTL, producer))
	if err != nil {
		var zero Result[T]
		return zero, err
	}
	return Result[T]{Data: v, Freshness: Fresh, Source: SourceProducer}, nil
}

// writingThrough wraps producer so that the single deduplicated execution
// writes its result into both tiers. A disk write failure is logged and does
// not fail the call; the caller already has a valid value in hand.
func (c *Coordinator[T]) writingThrough(key string, memoryTTL, diskTTL time.Duration, producer Producer[T]) Producer[T] {
	return func(ctx context.Context) (T, error) {
		v, err := producer(ctx)
		if err != nil {
			return v, err
		}
		if err := c.disk.Save(v, key, diskTTL); err != nil {
			c.logger.Warn("tiercache: persisting value failed", "key", key, "err", err)
		}
		c.mem.Put(key, newEntry(v, c.now(), memoryTTL, 0))
		return v, nil
	}
}

// scheduleRefresh starts a fire-and-forget revalidation for key. The refresh
// routes through the same flight group as synchronous misses, so a second
// stale hit while it is running attaches to the pending call instead of
// invoking the producer again. On failure the stale disk entry stays in
// place for the next call to retry.
func (c *Coordinator[T]) scheduleRefresh(key string, memoryTTL, diskTTL time.Duration, producer Producer[T]) {
	if c.refreshLimit != nil && !c.refreshLimit.Allow() {
		return
	}
	c.refreshes.Add(1)
	go func() {
		defer c.refreshes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
		defer cancel()
		if _, err := c.flight.Do(ctx, key, c.writingThrough(key, memoryTTL, diskTTL, producer)); err != nil {
			c.logger.Warn("tiercache: background refresh failed", "key", key, "err", err)
		}
	}()
}

// InvalidateAll clears both tiers. In-flight producer calls are not
// cancelled; one already running will still complete and repopulate its key.
func (c *Coordinator[T]) InvalidateAll() error {
	c.mem.InvalidateAll()
	return c.disk.InvalidateAll()
}

// Cleanup removes expired entries from the durable tier and returns how many
// were removed.
func (c *Coordinator[T]) Cleanup() (int, error) {
	return c.disk.Cleanup()
}

// Stats merges the coordinator's request counters with both tiers' and the
// deduplicator's.
func (c *Coordinator[T]) Stats() Stats {
	return Stats{
		TotalRequests: c.counters.total.Load(),
		MemoryHits:    c.counters.memoryHits.Load(),
		DiskHits:      c.counters.diskHits.Load(),
		StaleHits:     c.counters.staleHits.Load(),
		Misses:        c.counters.misses.Load(),
		Memory:        c.mem.Stats(),
		Disk:          c.disk.Stats(),
		Flight:        c.flight.Stats(),
	}
}

// Close drains outstanding background refreshes, stops the cleanup loop,
// and releases the memory tier. The durable tier's files stay on disk for
// the next process. Close is idempotent.
func (c *Coordinator[T]) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.refreshes.Wait()
		c.mem.Close()
	})
}

func (c *Coordinator[T]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n, err := c.disk.Cleanup(); err != nil {
				c.logger.Warn("tiercache: cleanup failed", "err", err)
			} else if n > 0 {
				c.logger.Debug("tiercache: cleanup removed expired entries", "removed", n)
			}
		}
	}
}
