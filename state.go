package ipcd

import (
	"context"
	"os"
	"strings"
	"time"

	"pkt.systems/ipcd/internal/wire"
)

// ActiveState classifies an endpoint path without establishing a session.
type ActiveState int

const (
	// StateListening means a daemon holds the endpoint and accepts
	// connections.
	StateListening ActiveState = iota
	// StateNotListening means the endpoint exists but nothing accepts on it.
	StateNotListening
	// StatePathNotFound means there is no endpoint at the path.
	StatePathNotFound
	// StateInvalidPath means the path cannot name an endpoint.
	StateInvalidPath
	// StateOtherError covers everything else.
	StateOtherError
)

func (s ActiveState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateNotListening:
		return "not-listening"
	case StatePathNotFound:
		return "path-not-found"
	case StateInvalidPath:
		return "invalid-path"
	default:
		return "other-error"
	}
}

// probeDialTimeout keeps the liveness probe from suspending for more than a
// scheduler tick or two.
const probeDialTimeout = 500 * time.Millisecond

// GetActiveState probes the endpoint at path. It has no side effects beyond
// one aborted connect and never retries.
func GetActiveState(path string) ActiveState {
	if path == "" || strings.ContainsRune(path, 0) {
		return StateInvalidPath
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatePathNotFound
		}
		return StateOtherError
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return StateInvalidPath
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeDialTimeout)
	defer cancel()
	conn, err := wire.DialContext(ctx, path, false)
	if err == nil {
		_ = conn.Close()
		return StateListening
	}
	switch {
	case wire.IsBusy(err):
		return StateNotListening
	case wire.IsNotFound(err):
		return StatePathNotFound
	default:
		return StateOtherError
	}
}
