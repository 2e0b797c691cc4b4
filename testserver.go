package ipcd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"
)

// TestServer wraps a running in-process Server with convenient handles for
// tests.
type TestServer struct {
	Server *Server
	Path   string
	Config Config

	startErr chan error
}

type testingWriter struct {
	t  testing.TB
	mu sync.Mutex
	// closed guards against writes after the associated test has finished.
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return len(p), nil
	}
	lines := bytes.Split(p, []byte{'\n'})
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		w.t.Helper()
		func(entry string) {
			defer func() {
				if r := recover(); r != nil {
					if strings.Contains(fmt.Sprint(r), "Log in goroutine after") {
						return
					}
					panic(r)
				}
			}()
			w.t.Log(entry)
		}(string(line))
	}
	w.mu.Unlock()
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// NewTestingLogger creates a pslog logger that writes through testing.TB.
func NewTestingLogger(t testing.TB, level pslog.Level) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	logger := pslog.NewStructured(writer).WithLogLevel()
	if level != pslog.NoLevel {
		logger = logger.LogLevel(level)
	}
	return logger.With("app", "testserver")
}

// StartTestServer runs a server on a fresh endpoint under t.TempDir and
// registers cleanup that drains it. It fails the test if the server does not
// come up.
func StartTestServer(t testing.TB, handler Handler, appData any, opts ...Option) *TestServer {
	t.Helper()
	cfg := Config{
		Path:      filepath.Join(t.TempDir(), "ipc-test"),
		NrThreads: 4,
	}
	if len(opts) == 0 {
		opts = []Option{WithLogger(NewTestingLogger(t, pslog.NoLevel))}
	}
	srv, err := NewServer(cfg, handler, appData, opts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := &TestServer{
		Server:   srv,
		Path:     cfg.Path,
		Config:   cfg,
		startErr: make(chan error, 1),
	}
	go func() {
		ts.startErr <- srv.Start()
	}()
	select {
	case <-srv.Ready():
	case err := <-ts.startErr:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		if err := <-ts.startErr; err != nil {
			t.Errorf("serve: %v", err)
		}
	})
	return ts
}

// Wait blocks until Start returns and reports its error.
func (ts *TestServer) Wait(t testing.TB, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-ts.startErr:
		ts.startErr <- err
		return err
	case <-time.After(timeout):
		t.Fatalf("server did not stop within %v", timeout)
		return nil
	}
}
