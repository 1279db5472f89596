package tiercache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// MemoryCache is the volatile tier: an in-process, count-bounded cache
// backed by ristretto. Every entry has cost 1, so MaxCost bounds the entry
// count. Contents do not survive a restart; the coordinator rebuilds them
// from the disk tier or from producers.
type MemoryCache[T any] struct {
	rc *ristretto.Cache[string, Entry[T]]
}

// NewMemoryCache creates a volatile tier holding at most maxEntries entries.
func NewMemoryCache[T any](maxEntries int64) (*MemoryCache[T], error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, Entry[T]]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryCache[T]{rc: rc}, nil
}

// Get returns the entry stored under key. The entry is returned with its
// timestamps intact; deciding freshness is the caller's job.
func (m *MemoryCache[T]) Get(key string) (Entry[T], bool) {
	return m.rc.Get(key)
}

// Put stores an entry under key until its ExpiresAt instant. The write is
// flushed synchronously so an immediate Get observes it.
func (m *MemoryCache[T]) Put(key string, e Entry[T]) {
	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		return
	}
	m.rc.SetWithTTL(key, e, 1, ttl)
	m.rc.Wait()
}

// Invalidate removes a single key.
func (m *MemoryCache[T]) Invalidate(key string) {
	m.rc.Del(key)
}

// InvalidateAll empties the tier.
func (m *MemoryCache[T]) InvalidateAll() {
	m.rc.Clear()
}

// Stats returns the tier's counters as tracked by ristretto.
func (m *MemoryCache[T]) Stats() MemoryStats {
	met := m.rc.Metrics
	return MemoryStats{
		Hits:      met.Hits(),
		Misses:    met.Misses(),
		Evictions: met.KeysEvicted(),
	}
}

// Close releases the tier's internal buffers.
func (m *MemoryCache[T]) Close() {
	m.rc.Close()
}
