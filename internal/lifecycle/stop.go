package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/ipcd"
	"pkt.systems/ipcd/client"
	"pkt.systems/ipcd/internal/clock"
	"pkt.systems/ipcd/internal/svcfields"
)

// StopOptions configures Stop. Probe and Send default to the real
// implementations and exist for tests.
type StopOptions struct {
	Path    string
	MaxWait time.Duration
	Logger  pslog.Logger
	Clock   clock.Clock
	Probe   func(path string) ipcd.ActiveState
	Send    func(ctx context.Context, path string, opts client.ConnectOptions, command []byte) ([]byte, error)
}

func (o *StopOptions) fillDefaults() {
	o.Logger = svcfields.WithSubsystem(o.Logger, "lifecycle.stop")
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Probe == nil {
		o.Probe = ipcd.GetActiveState
	}
	if o.Send == nil {
		o.Send = client.Send
	}
	if o.MaxWait < 0 {
		o.MaxWait = 0
	}
}

// Stop sends the quit command, then polls the endpoint until it stops
// listening or the deadline passes. Quit only queues a shutdown in the
// server; the poll turns that asynchronous drain into a synchronous wait.
func Stop(ctx context.Context, opts StopOptions) error {
	opts.fillDefaults()
	deadline := opts.Clock.Now().Add(opts.MaxWait)
	if _, err := opts.Send(ctx, opts.Path, client.ConnectOptions{WaitIfBusy: true}, []byte("quit")); err != nil {
		return fmt.Errorf("send quit to %q: %w", opts.Path, err)
	}
	opts.Logger.Info("quit sent, waiting for endpoint to close", "path", opts.Path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-opts.Clock.After(ipcd.DefaultPollInterval):
		}
		if opts.Probe(opts.Path) != ipcd.StateListening {
			return nil
		}
		if opts.Clock.Now().After(deadline) {
			return errors.New("daemon has not shutdown yet")
		}
	}
}
