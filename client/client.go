// Package client implements the short-lived request side of the IPC
// transport: open a connection, send one command, read the complete reply
// stream, close.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"pkt.systems/ipcd/internal/wire"
)

const (
	// DefaultConnectAttempts bounds the retry loop for the transient
	// failure classes enabled by ConnectOptions.
	DefaultConnectAttempts = 100
	// ConnectRetryDelay paces retries of transient connect failures.
	ConnectRetryDelay = 50 * time.Millisecond
)

// ConnectOptions selects which transient connect failures are retried.
type ConnectOptions struct {
	// WaitIfBusy retries while the server refuses or defers connections.
	WaitIfBusy bool
	// WaitIfNotFound retries while the endpoint path does not exist yet.
	WaitIfNotFound bool
	// DisallowChdir forbids the working-directory workaround for over-long
	// socket paths. Required when the caller runs clients on multiple
	// threads of one process.
	DisallowChdir bool
}

// Send opens a connection to path, sends command as one message, and returns
// the concatenation of every reply chunk. A server that closes the
// connection without replying yields an empty, non-nil reply.
func Send(ctx context.Context, path string, opts ConnectOptions, command []byte) ([]byte, error) {
	conn, err := dial(ctx, path, opts)
	if err != nil {
		return nil, fmt.Errorf("client: connect %q: %w", path, err)
	}
	defer conn.Close()

	bw := bufio.NewWriter(conn)
	if err := wire.WriteMessage(bw, command); err != nil {
		return nil, fmt.Errorf("client: send command: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("client: send command: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		// Half-close so the server sees a complete request even if it
		// drains the connection before replying.
		_ = uc.CloseWrite()
	}

	reply, err := wire.ReadMessage(bufio.NewReader(conn))
	if err != nil {
		if errors.Is(err, io.EOF) {
			// The quit command legitimately produces no reply stream at
			// all; clean close counts as an empty reply.
			return []byte{}, nil
		}
		return nil, fmt.Errorf("client: read reply: %w", err)
	}
	return reply, nil
}

// dial connects to the endpoint, retrying the transient classes enabled in
// opts with a bounded backoff.
func dial(ctx context.Context, path string, opts ConnectOptions) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < DefaultConnectAttempts; attempt++ {
		conn, err := wire.DialContext(ctx, path, opts.DisallowChdir)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		retry := false
		switch {
		case wire.IsNotFound(err):
			retry = opts.WaitIfNotFound
		case wire.IsBusy(err):
			retry = opts.WaitIfBusy
		}
		if !retry {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ConnectRetryDelay):
		}
	}
	return nil, lastErr
}
