// Package exercise defines the application side of the IPC exerciser: the
// command vocabulary served by the daemon and the client drivers that stress
// it.
package exercise

import (
	"fmt"
	"strings"
	"time"

	"pkt.systems/ipcd"
	"pkt.systems/ipcd/internal/clock"
)

const (
	bigRows   = 10000
	chunkRows = 10000
	slowRows  = 1000
	slowDelay = 10 * time.Millisecond

	sendbytesPrefix = "sendbytes "
)

// HandlerOption configures the exerciser handler.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	Clock clock.Clock
}

// WithClock injects the clock used for the slow command's pacing.
func WithClock(c clock.Clock) HandlerOption {
	return func(o *handlerOptions) {
		o.Clock = c
	}
}

// NewHandler returns the application callback serving the exerciser command
// vocabulary. token must be the exact pointer later passed to the server as
// application data; receiving anything else at dispatch time is a programmer
// error in the callback plumbing and panics.
func NewHandler(token *int, opts ...HandlerOption) ipcd.Handler {
	o := handlerOptions{Clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	return func(appData any, command []byte, sink ipcd.ReplySink) ipcd.Result {
		if p, ok := appData.(*int); !ok || p != token {
			panic("exercise: application data pointer mismatch")
		}
		cmd := string(command)
		switch {
		case cmd == "quit":
			// The client does not expect a reply; the server begins its
			// cooperative shutdown and drains the other connections.
			return ipcd.ResultQuit
		case cmd == "ping":
			return emit(sink, []byte("pong"))
		case cmd == "big":
			return bigCommand(sink)
		case cmd == "chunk":
			return chunkCommand(sink)
		case cmd == "slow":
			return slowCommand(sink, o.Clock)
		case strings.HasPrefix(cmd, sendbytesPrefix):
			return sendbytesCommand(sink, cmd[len(sendbytesPrefix):])
		default:
			return emit(sink, []byte("unhandled command: "+cmd))
		}
	}
}

func emit(sink ipcd.ReplySink, p []byte) ipcd.Result {
	if err := sink.Emit(p); err != nil {
		return ipcd.ResultError
	}
	return ipcd.ResultOK
}

func row(k int) string {
	return fmt.Sprintf("big: %075d\n", k)
}

// bigCommand replies with one very large buffer in a single emit, so the
// transport has to chunk it itself.
func bigCommand(sink ipcd.ReplySink) ipcd.Result {
	var b strings.Builder
	b.Grow(bigRows * (len("big: \n") + 75))
	for k := 0; k < bigRows; k++ {
		b.WriteString(row(k))
	}
	return emit(sink, []byte(b.String()))
}

// chunkCommand replies with the same rows as bigCommand, one emit per row,
// exercising incremental many-chunk replies on one connection.
func chunkCommand(sink ipcd.ReplySink) ipcd.Result {
	for k := 0; k < chunkRows; k++ {
		if err := sink.Emit([]byte(row(k))); err != nil {
			return ipcd.ResultError
		}
	}
	return ipcd.ResultOK
}

// slowCommand models an expensive chunked reply: the client has to tolerate
// long idle gaps inside one reply stream.
func slowCommand(sink ipcd.ReplySink, clk clock.Clock) ipcd.Result {
	for k := 0; k < slowRows; k++ {
		if err := sink.Emit([]byte(row(k))); err != nil {
			return ipcd.ResultError
		}
		clk.Sleep(slowDelay)
	}
	return ipcd.ResultOK
}

// sendbytesCommand verifies the ballast is n copies of a single letter, the
// proof that the multi-threaded IO layer did not cross the streams.
func sendbytesCommand(sink ipcd.ReplySink, ballast string) ipcd.Result {
	c := byte('?')
	if len(ballast) > 0 {
		c = ballast[0]
	}
	errs := 0
	for k := 1; k < len(ballast); k++ {
		if ballast[k] != c {
			errs++
		}
	}
	if errs > 0 {
		return emit(sink, fmt.Appendf(nil, "errs:%d\n", errs))
	}
	return emit(sink, fmt.Appendf(nil, "rcvd:%c%08d\n", c, len(ballast)))
}
