package tiercache

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Coordinator.
type Option func(*config)

// WithMaxDiskBytes bounds the durable tier's total payload size in bytes.
// When a write pushes the tier over the budget, least-recently-written
// entries are evicted until it fits again.
func WithMaxDiskBytes(n int64) Option {
	return func(c *config) {
		c.maxDiskBytes = n
	}
}

// WithMaxMemoryEntries bounds the volatile tier's entry count.
func WithMaxMemoryEntries(n int64) Option {
	return func(c *config) {
		c.maxMemoryEntries = n
	}
}

// WithLogger sets the logger used for write-path and background-refresh
// failures. The default logger discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithRefreshLimit throttles how many background revalidations may start per
// second. When the token bucket is empty a stale hit is served without
// scheduling a refresh; the next stale hit tries again.
func WithRefreshLimit(rps float64, burst int) Option {
	return func(c *config) {
		c.refreshLimit = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRefreshTimeout caps how long a background revalidation may run before
// its context is cancelled.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *config) {
		c.refreshTimeout = d
	}
}

// WithCleanupInterval starts a background loop that removes expired durable
// entries every interval. Without it, expired entries are only removed by
// explicit Cleanup calls or when overwritten.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *config) {
		c.cleanupInterval = d
	}
}

// WithTracing enables OpenTelemetry spans around Coordinator.Get. Tracing
// is entirely optional; without this option no span is ever created.
func WithTracing(cfg *TracingConfig) Option {
	return func(c *config) {
		c.tracing = cfg
	}
}
