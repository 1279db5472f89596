package tiercache

import "time"

// Entry is an immutable cached record. CreatedAt and ExpiresAt are fixed at
// write time (ExpiresAt = CreatedAt + ttl); SizeBytes is the encoded payload
// size and is only meaningful for entries that passed through the disk tier.
type Entry[T any] struct {
	Data      T
	CreatedAt time.Time
	ExpiresAt time.Time
	SizeBytes uint64
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
// An entry is still fresh at exactly its ExpiresAt instant.
func (e Entry[T]) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// newEntry builds an entry timestamped at now with the given TTL.
func newEntry[T any](data T, now time.Time, ttl time.Duration, size uint64) Entry[T] {
	return Entry[T]{
		Data:      data,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		SizeBytes: size,
	}
}
