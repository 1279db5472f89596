package tiercache

import "time"

const (
	// DefaultMaxDiskBytes bounds the durable tier when WithMaxDiskBytes is
	// not supplied.
	DefaultMaxDiskBytes = 32 << 20

	// DefaultMaxMemoryEntries bounds the volatile tier when
	// WithMaxMemoryEntries is not supplied.
	DefaultMaxMemoryEntries = 1024

	// DefaultRefreshTimeout caps how long a background revalidation may run.
	DefaultRefreshTimeout = 30 * time.Second
)
