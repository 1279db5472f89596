package tiercache

import "go.uber.org/atomic"

// MemoryStats are the volatile tier's counters.
type MemoryStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// DiskStats are the durable tier's counters. Corrupted counts entries that
// failed to read or decode and were deleted as a result.
type DiskStats struct {
	Entries    int
	TotalBytes int64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Expired    uint64
	Corrupted  uint64
}

// FlightStats are the deduplicator's counters.
type FlightStats struct {
	TotalRequests        uint64
	DeduplicatedRequests uint64
}

// DeduplicationRate is the share of requests that attached to an in-flight
// producer. Derived on read, never stored.
func (f FlightStats) DeduplicationRate() float64 {
	if f.TotalRequests == 0 {
		return 0
	}
	return float64(f.DeduplicatedRequests) / float64(f.TotalRequests)
}

// Stats merges the coordinator's own request counters with the per-tier and
// deduplicator counters. MemoryHits + DiskHits + StaleHits + Misses always
// equals TotalRequests.
type Stats struct {
	TotalRequests uint64
	MemoryHits    uint64
	DiskHits      uint64
	StaleHits     uint64
	Misses        uint64

	Memory MemoryStats
	Disk   DiskStats
	Flight FlightStats
}

// OverallHitRate is the share of requests served fresh from either tier.
func (s Stats) OverallHitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.MemoryHits+s.DiskHits) / float64(s.TotalRequests)
}

// coordCounters are the coordinator's request-outcome counters.
type coordCounters struct {
	total      atomic.Uint64
	memoryHits atomic.Uint64
	diskHits   atomic.Uint64
	staleHits  atomic.Uint64
	misses     atomic.Uint64
}
