package tiercache

// Freshness classifies how current a served value is.
type Freshness int

const (
	// Fresh means the serving tier's entry was unexpired at read time.
	Fresh Freshness = iota

	// Stale means an expired disk entry was served while a background
	// refresh was scheduled or already in flight.
	Stale
)

// String returns the freshness name for logs and span attributes.
func (f Freshness) String() string {
	if f == Stale {
		return "stale"
	}
	return "fresh"
}

// Source identifies which layer produced a served value.
type Source int

const (
	SourceMemory Source = iota
	SourceDisk
	SourceProducer
)

// String returns the source name for logs and span attributes.
func (s Source) String() string {
	switch s {
	case SourceMemory:
		return "memory"
	case SourceDisk:
		return "disk"
	default:
		return "producer"
	}
}

// Result is what Coordinator.Get hands back to callers: the value plus
// where it came from and whether it was fresh at read time.
type Result[T any] struct {
	Data      T
	Freshness Freshness
	Source    Source
}
