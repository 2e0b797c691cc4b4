package ipcd

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultPath is the endpoint the daemon binds when no path is
	// configured, relative to the current working directory.
	DefaultPath = "ipc-test"
	// DefaultNrThreads is the server worker pool size.
	DefaultNrThreads = 5
	// DefaultStartWait bounds how long start-daemon waits for the child to
	// come online.
	DefaultStartWait = 60 * time.Second
	// DefaultStopWait bounds how long stop-daemon waits for the endpoint to
	// go quiet after the quit command.
	DefaultStopWait = 60 * time.Second
	// DefaultPollInterval paces the lifecycle readiness and teardown polls.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMetricsListen disables the Prometheus endpoint unless
	// explicitly configured.
	DefaultMetricsListen = ""
)

// Config describes one IPC server instance. The zero value is usable after
// Validate fills in defaults.
type Config struct {
	// Path names the endpoint to bind. Only one daemon may hold it at a
	// time.
	Path string
	// NrThreads sizes the worker pool. Values below 1 are coerced to 1.
	NrThreads int
	// MetricsListen is an optional TCP address for the Prometheus scrape
	// endpoint. Empty disables metrics.
	MetricsListen string
}

// Validate applies defaults and coerces out-of-range values in place.
func (c *Config) Validate() error {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if strings.ContainsRune(c.Path, 0) {
		return fmt.Errorf("config: invalid endpoint path %q", c.Path)
	}
	if c.NrThreads == 0 {
		c.NrThreads = DefaultNrThreads
	}
	if c.NrThreads < 1 {
		c.NrThreads = 1
	}
	return nil
}
