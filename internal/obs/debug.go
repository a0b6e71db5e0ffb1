// Package obs provides ambient debug logging for the ingestion, integrity,
// and MRCM subsystems. It intentionally mirrors the teacher's minimalist,
// env-gated logger rather than a structured logging framework: none of the
// retrieved examples' core business logic reaches for one.
package obs

import (
	"fmt"
	"os"
	"sync"
)

var (
	enabled bool
	mu      sync.Mutex
)

func init() {
	enabled = os.Getenv("TERMCORE_DEBUG") != ""
}

// Enabled reports whether debug logging is currently on.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// SetEnabled toggles debug logging at runtime (cmd/rf2ctl turns it on when
// the metricsEnabled setting is true).
func SetEnabled(v bool) {
	mu.Lock()
	defer mu.Unlock()
	enabled = v
}

// Logf writes a debug line to stderr if debug logging is enabled.
func Logf(format string, args ...interface{}) {
	if Enabled() {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Printf writes a debug line to stdout if debug logging is enabled.
func Printf(format string, args ...interface{}) {
	if Enabled() {
		fmt.Printf(format, args...)
	}
}
