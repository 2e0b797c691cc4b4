package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// maxSockaddrPath is a conservative bound on sun_path. Longer endpoint paths
// are reached by entering the socket's directory and using the basename.
const maxSockaddrPath = 100

// DefaultDialTimeout bounds a single connect attempt.
const DefaultDialTimeout = 5 * time.Second

// ErrPathTooLong is returned when the endpoint path does not fit in
// sockaddr_un and the caller forbade the working-directory workaround.
var ErrPathTooLong = errors.New("wire: socket path too long for sockaddr")

// chdirMu serializes the cwd dance for over-long socket paths; the working
// directory is process-global state.
var chdirMu sync.Mutex

// DialContext connects to the endpoint at path. When the path exceeds the
// sockaddr limit the dial happens from inside the socket's directory unless
// disallowChdir is set, in which case ErrPathTooLong is returned.
func DialContext(ctx context.Context, path string, disallowChdir bool) (net.Conn, error) {
	d := net.Dialer{Timeout: DefaultDialTimeout}
	if len(path) < maxSockaddrPath {
		return d.DialContext(ctx, "unix", path)
	}
	if disallowChdir {
		return nil, fmt.Errorf("%w: %q", ErrPathTooLong, path)
	}
	chdirMu.Lock()
	defer chdirMu.Unlock()
	restore, err := enterDir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	defer restore()
	return d.DialContext(ctx, "unix", filepath.Base(path))
}

// Listen binds the endpoint at path, applying the same over-long-path
// workaround as DialContext. The caller owns removal of the socket file; the
// listener itself will not unlink it on Close.
func Listen(path string) (net.Listener, error) {
	if len(path) < maxSockaddrPath {
		return listenUnix(path)
	}
	chdirMu.Lock()
	defer chdirMu.Unlock()
	restore, err := enterDir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	defer restore()
	return listenUnix(filepath.Base(path))
}

func listenUnix(path string) (net.Listener, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("wire: resolve %q: %w", path, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: listen %q: %w", path, err)
	}
	// The server removes the endpoint as the last step of its drain, after
	// the listener is already closed.
	ln.SetUnlinkOnClose(false)
	return ln, nil
}

func enterDir(dir string) (func(), error) {
	prev, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("wire: getwd: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return nil, fmt.Errorf("wire: chdir %q: %w", dir, err)
	}
	return func() { _ = os.Chdir(prev) }, nil
}

// IsNotFound reports whether err is the transient class for an endpoint path
// that does not exist yet.
func IsNotFound(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, os.ErrNotExist)
}

// IsBusy reports whether err is the transient class for an endpoint that
// exists but refused or deferred the connection.
func IsBusy(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EAGAIN)
}
