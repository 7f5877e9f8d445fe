// Package obs is the gateway's observability surface: structured
// logging, Prometheus counters/histograms, and the auxiliary HTTP mux
// serving /healthz, /readyz, /metrics, and /swagger. Grounded on the
// teacher's internal/httpapi package, which wires the same zerolog +
// prometheus + chi combination around an HTTP API instead of a TCP
// gateway.
package obs

import (
	"os"

	"github.com/rs/zerolog"
)

// log is the process-wide structured logger. Installed once in main
// via SetLogger; falls back to a sane console default so tests and
// ad-hoc runs still get readable output.
var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// SetLogger installs l as the process-wide logger used by every obs
// helper and every component that calls obs.Logger().
func SetLogger(l zerolog.Logger) { log = l }

// Logger returns the currently-installed structured logger.
func Logger() *zerolog.Logger { return &log }
