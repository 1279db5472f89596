package tiercache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"
)

// DiskStore is the durable tier: a size-bounded, key-addressed store of
// codec-encoded entries that survives process restarts. Each key maps to two
// files in the store directory, a payload (<hash>.bin) and a JSON metadata
// sidecar (<hash>.json) carrying creation time, expiry time, and payload
// size. Writes go to a temp file first and are renamed into place, so a
// torn-down process never leaves a partial entry behind.
//
// The store never filters reads by expiry; entries come back with their
// timestamps intact and callers decide freshness. Read failures and
// corrupted entries degrade to a miss so a damaged disk never blocks the
// hot path.
type DiskStore[T any] struct {
	dir      string
	codec    Codec[T]
	maxBytes int64
	now      func() time.Time

	mu         sync.RWMutex
	index      map[string]*diskRecord
	totalBytes int64
	nextSeq    uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64
	corrupted atomic.Uint64
}

// diskRecord is the in-memory index entry for one persisted key. seq is a
// monotonically increasing insertion number used to break eviction ties
// between entries written at the same instant.
type diskRecord struct {
	meta diskMeta
	seq  uint64
}

// diskMeta is the sidecar layout. The byte layout is private to this
// process; it is rebuilt from scratch whenever it cannot be parsed.
type diskMeta struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	SizeBytes uint64    `json:"size_bytes"`
}

// NewDiskStore opens (or creates) a durable tier rooted at dir, bounded to
// maxBytes of payload data. Existing entries are re-indexed; sidecars that
// cannot be parsed, and payloads without a sidecar, are deleted.
func NewDiskStore[T any](dir string, codec Codec[T], maxBytes int64) (*DiskStore[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk: create %s: %w", dir, err)
	}
	s := &DiskStore[T]{
		dir:      dir,
		codec:    codec,
		maxBytes: maxBytes,
		now:      time.Now,
		index:    make(map[string]*diskRecord),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load rebuilds the index from the store directory.
func (s *DiskStore[T]) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("disk: scan %s: %w", s.dir, err)
	}

	var metas []diskMeta
	valid := make(map[string]bool)
	for _, de := range entries {
		name := de.Name()
		switch {
		case strings.HasSuffix(name, ".tmp"):
			// Leftover from an interrupted write.
			_ = os.Remove(filepath.Join(s.dir, name))
		case strings.HasSuffix(name, ".json"):
			var m diskMeta
			data, err := os.ReadFile(filepath.Join(s.dir, name))
			if err == nil {
				err = json.Unmarshal(data, &m)
			}
			bin := strings.TrimSuffix(name, ".json") + ".bin"
			if err != nil || m.Key == "" {
				s.corrupted.Inc()
				_ = os.Remove(filepath.Join(s.dir, name))
				_ = os.Remove(filepath.Join(s.dir, bin))
				continue
			}
			if _, err := os.Stat(filepath.Join(s.dir, bin)); err != nil {
				s.corrupted.Inc()
				_ = os.Remove(filepath.Join(s.dir, name))
				continue
			}
			metas = append(metas, m)
			valid[bin] = true
		}
	}

	// Orphaned payloads have no sidecar to describe them.
	for _, de := range entries {
		name := de.Name()
		if strings.HasSuffix(name, ".bin") && !valid[name] {
			_ = os.Remove(filepath.Join(s.dir, name))
		}
	}

	// Re-assign insertion sequence in write order so eviction stays
	// deterministic across restarts.
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.Before(metas[j].CreatedAt)
		}
		return metas[i].Key < metas[j].Key
	})
	for _, m := range metas {
		s.index[m.Key] = &diskRecord{meta: m, seq: s.nextSeq}
		s.nextSeq++
		s.totalBytes += int64(m.SizeBytes)
	}
	return nil
}

// Save encodes value and writes it under key with the given TTL, replacing
// any prior entry. When the write pushes the store over its byte budget,
// least-recently-written entries are evicted until it fits again; the entry
// just written is never evicted. Encoding and I/O failures propagate.
func (s *DiskStore[T]) Save(value T, key string, ttl time.Duration) error {
	data, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("disk: encode %q: %w", key, err)
	}

	now := s.now()
	meta := diskMeta{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		SizeBytes: uint64(len(data)),
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("disk: encode metadata for %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bin, sidecar := s.paths(key)
	if err := writeFileAtomic(bin, data); err != nil {
		return fmt.Errorf("disk: write %q: %w", key, err)
	}
	if err := writeFileAtomic(sidecar, metaData); err != nil {
		// Roll the payload back so no entry exists without its sidecar.
		_ = os.Remove(bin)
		return fmt.Errorf("disk: write metadata for %q: %w", key, err)
	}

	if old, ok := s.index[key]; ok {
		s.totalBytes -= int64(old.meta.SizeBytes)
	}
	s.index[key] = &diskRecord{meta: meta, seq: s.nextSeq}
	s.nextSeq++
	s.totalBytes += int64(len(data))

	s.evictOverBudgetLocked(key)
	return nil
}

// evictOverBudgetLocked removes least-recently-written entries until the
// store fits its byte budget, never touching keep.
func (s *DiskStore[T]) evictOverBudgetLocked(keep string) {
	for s.totalBytes > s.maxBytes {
		victim := ""
		var vr *diskRecord
		for k, r := range s.index {
			if k == keep {
				continue
			}
			if vr == nil || r.olderThan(vr) {
				victim, vr = k, r
			}
		}
		if vr == nil {
			return
		}
		s.removeLocked(victim)
		s.evictions.Inc()
	}
}

// olderThan orders records by creation time, insertion sequence breaking
// ties.
func (r *diskRecord) olderThan(other *diskRecord) bool {
	if !r.meta.CreatedAt.Equal(other.meta.CreatedAt) {
		return r.meta.CreatedAt.Before(other.meta.CreatedAt)
	}
	return r.seq < other.seq
}

// Get returns the entry stored under key, expired or not. Unreadable or
// undecodable entries are deleted and reported as a miss, never as an
// error: the cache is an optimization, not a dependency.
func (s *DiskStore[T]) Get(key string) (Entry[T], bool) {
	s.mu.RLock()
	rec, ok := s.index[key]
	if !ok {
		s.mu.RUnlock()
		s.misses.Inc()
		return Entry[T]{}, false
	}
	meta := rec.meta
	bin, _ := s.paths(key)
	data, err := os.ReadFile(bin)
	s.mu.RUnlock()

	var value T
	if err == nil {
		value, err = s.codec.Decode(data)
	}
	if err != nil {
		s.corrupted.Inc()
		s.misses.Inc()
		s.Remove(key)
		return Entry[T]{}, false
	}

	s.hits.Inc()
	return Entry[T]{
		Data:      value,
		CreatedAt: meta.CreatedAt,
		ExpiresAt: meta.ExpiresAt,
		SizeBytes: meta.SizeBytes,
	}, true
}

// Remove deletes the entry stored under key, if any.
func (s *DiskStore[T]) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
}

func (s *DiskStore[T]) removeLocked(key string) {
	rec, ok := s.index[key]
	if !ok {
		return
	}
	bin, sidecar := s.paths(key)
	_ = os.Remove(bin)
	_ = os.Remove(sidecar)
	s.totalBytes -= int64(rec.meta.SizeBytes)
	delete(s.index, key)
}

// Cleanup removes every entry whose TTL has elapsed and returns how many
// were removed. Safe to call concurrently with Save and Get.
func (s *DiskStore[T]) Cleanup() (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.index {
		if now.After(rec.meta.ExpiresAt) {
			s.removeLocked(key)
			s.expired.Inc()
			removed++
		}
	}
	return removed, nil
}

// InvalidateAll drops every entry from the store.
func (s *DiskStore[T]) InvalidateAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for key := range s.index {
		bin, sidecar := s.paths(key)
		if err := os.Remove(bin); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		if err := os.Remove(sidecar); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.index = make(map[string]*diskRecord)
	s.totalBytes = 0
	return errors.Join(errs...)
}

// Stats returns the tier's current counters.
func (s *DiskStore[T]) Stats() DiskStats {
	s.mu.RLock()
	entries := len(s.index)
	totalBytes := s.totalBytes
	s.mu.RUnlock()

	return DiskStats{
		Entries:    entries,
		TotalBytes: totalBytes,
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		Evictions:  s.evictions.Load(),
		Expired:    s.expired.Load(),
		Corrupted:  s.corrupted.Load(),
	}
}

// paths returns the payload and sidecar locations for key. Names are the
// xxhash of the key so arbitrary key strings stay filesystem-safe.
func (s *DiskStore[T]) paths(key string) (bin, sidecar string) {
	name := fmt.Sprintf("%016x", xxhash.Sum64String(key))
	return filepath.Join(s.dir, name+".bin"), filepath.Join(s.dir, name+".json")
}

// writeFileAtomic writes data to a temp file and renames it into place so
// readers never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
