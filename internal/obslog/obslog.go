// Package obslog is quill's internal diagnostic logger: the library
// talking about its own operation (dial failures, STOMP protocol errors,
// retry-worker lifecycle), distinct from the quill.Event pipeline it
// instruments. The
// original logs such events directly to std::cout/std::cerr from inside
// the delivery and retry threads; obslog plays the same role with
// structured fields instead of ad-hoc stream insertion.
package obslog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once    sync.Once
	logger  zerolog.Logger
)

// Default returns the process-wide diagnostic logger, initializing it on
// first use with stderr output and a timestamp field.
func Default() zerolog.Logger {
	once.Do(func() {
		logger = zerolog.New(os.Stderr).With().Timestamp().Str("component", "quill").Logger()
	})
	return logger
}

// Named returns a child logger tagged with the given subsystem name, e.g.
// obslog.Named("delivery") for the delivery worker's own log lines.
func Named(subsystem string) zerolog.Logger {
	return Default().With().Str("subsystem", subsystem).Logger()
}
