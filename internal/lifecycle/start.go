// Package lifecycle spawns the daemon as a detached background process,
// waits for it to reach the listening state, and converts the asynchronous
// quit-driven shutdown into a synchronous stop for harness convenience.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
	"pkt.systems/pslog"

	"pkt.systems/ipcd"
	"pkt.systems/ipcd/internal/clock"
	"pkt.systems/ipcd/internal/svcfields"
)

// StartOptions configures Start. The Probe, Spawn, and ReapChild seams
// default to the real implementations and exist for tests.
type StartOptions struct {
	Path      string
	NrThreads int
	MaxWait   time.Duration
	Logger    pslog.Logger
	Clock     clock.Clock
	Probe     func(path string) ipcd.ActiveState
	Spawn     func(path string, nrThreads int) (pid int, err error)
	ReapChild func(pid int) (exited bool, err error)
}

func (o *StartOptions) fillDefaults() {
	o.Logger = svcfields.WithSubsystem(o.Logger, "lifecycle.start")
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Probe == nil {
		o.Probe = ipcd.GetActiveState
	}
	if o.Spawn == nil {
		o.Spawn = spawnServer
	}
	if o.ReapChild == nil {
		o.ReapChild = reapChild
	}
	if o.MaxWait < 0 {
		o.MaxWait = 0
	}
	if o.NrThreads < 1 {
		o.NrThreads = 1
	}
}

// Start spawns a detached daemon on opts.Path and waits until some daemon is
// listening there or the deadline passes. The caller asked for the path to
// be live, not for a particular process to own it: a child that loses a
// startup race against an already-running daemon still counts as success.
func Start(ctx context.Context, opts StartOptions) error {
	opts.fillDefaults()
	pid, err := opts.Spawn(opts.Path, opts.NrThreads)
	if err != nil {
		return fmt.Errorf("could not spawn daemon in the background: %w", err)
	}
	opts.Logger.Info("daemon spawned", "pid", pid, "path", opts.Path)
	return waitForStartup(ctx, opts, pid)
}

func waitForStartup(ctx context.Context, opts StartOptions, pid int) error {
	deadline := opts.Clock.Now().Add(opts.MaxWait)
	wake, stopWatch := watchEndpoint(opts.Path, opts.Logger)
	defer stopWatch()
	for {
		exited, err := opts.ReapChild(pid)
		if err != nil {
			return fmt.Errorf("waitpid failed: %w", err)
		}
		if exited {
			// The child shut down while starting up. Probe anyway: another
			// daemon may have grabbed the path first, which is fine.
			if opts.Probe(opts.Path) == ipcd.StateListening {
				return nil
			}
			return errors.New("daemon failed to start")
		}
		if opts.Probe(opts.Path) == ipcd.StateListening {
			return nil
		}
		if opts.Clock.Now().After(deadline) {
			return errors.New("daemon not online yet")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-opts.Clock.After(ipcd.DefaultPollInterval):
		case <-wake:
		}
	}
}

// spawnServer runs "<self> run-daemon" detached: new session, std streams on
// the null device, surviving parent exit.
func spawnServer(path string, nrThreads int) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.Command(exe, "run-daemon",
		fmt.Sprintf("--path=%s", path),
		fmt.Sprintf("--threads=%d", nrThreads),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	// Stdin/Stdout/Stderr are left nil so exec connects them to os.DevNull.
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// reapChild performs a non-blocking wait on the spawned daemon.
func reapChild(pid int) (bool, error) {
	for {
		var status unix.WaitStatus
		seen, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		return seen == pid, nil
	}
}

// watchEndpoint wakes the poll loop early when the socket appears in its
// directory. Polling remains the source of truth; a failed watcher just
// means 100 ms granularity.
func watchEndpoint(path string, logger pslog.Logger) (<-chan struct{}, func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Debug("fsnotify unavailable, polling only", "error", err)
		return nil, func() {}
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Debug("watch endpoint dir failed, polling only", "error", err)
		_ = watcher.Close()
		return nil, func() {}
	}
	wake := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == path {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return wake, func() { _ = watcher.Close() }
}
