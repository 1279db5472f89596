package tiercache

import (
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	maxDiskBytes     int64
	maxMemoryEntries int64
	logger           *slog.Logger
	refreshLimit     *rate.Limiter
	refreshTimeout   time.Duration
	cleanupInterval  time.Duration
	tracing          *TracingConfig
}

func defaultConfig() config {
	return config{
		maxDiskBytes:     DefaultMaxDiskBytes,
		maxMemoryEntries: DefaultMaxMemoryEntries,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		refreshTimeout:   DefaultRefreshTimeout,
	}
}
