package exercise_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"pkt.systems/ipcd"
	"pkt.systems/ipcd/exercise"
)

// captureSink collects reply chunks in memory so handler output can be
// inspected without a live connection.
type captureSink struct {
	chunks [][]byte
	err    error
}

func (s *captureSink) Emit(p []byte) error {
	if s.err != nil {
		return s.err
	}
	s.chunks = append(s.chunks, append([]byte(nil), p...))
	return nil
}

func (s *captureSink) joined() []byte {
	return bytes.Join(s.chunks, nil)
}

// stubClock records sleeps without actually sleeping.
type stubClock struct {
	sleeps []time.Duration
}

func (c *stubClock) Now() time.Time { return time.Unix(0, 0) }

func (c *stubClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Unix(0, 0)
	return ch
}

func (c *stubClock) Sleep(d time.Duration) { c.sleeps = append(c.sleeps, d) }

func newToken() *int {
	token := new(int)
	*token = 42
	return token
}

func TestHandlerPanicsOnForeignAppData(t *testing.T) {
	t.Parallel()

	handler := exercise.NewHandler(newToken())
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for foreign application data")
		}
	}()
	other := new(int)
	*other = 42
	handler(other, []byte("ping"), &captureSink{})
}

func TestHandlerPing(t *testing.T) {
	t.Parallel()

	token := newToken()
	sink := &captureSink{}
	result := exercise.NewHandler(token)(token, []byte("ping"), sink)
	if result != ipcd.ResultOK {
		t.Fatalf("result = %v, want ok", result)
	}
	if got := string(sink.joined()); got != "pong" {
		t.Fatalf("reply = %q", got)
	}
}

func TestHandlerUnhandledCommand(t *testing.T) {
	t.Parallel()

	token := newToken()
	sink := &captureSink{}
	result := exercise.NewHandler(token)(token, []byte("fluff"), sink)
	if result != ipcd.ResultOK {
		t.Fatalf("result = %v, want ok", result)
	}
	if got := string(sink.joined()); got != "unhandled command: fluff" {
		t.Fatalf("reply = %q", got)
	}
}

func TestHandlerQuitEmitsNothing(t *testing.T) {
	t.Parallel()

	token := newToken()
	sink := &captureSink{}
	result := exercise.NewHandler(token)(token, []byte("quit"), sink)
	if result != ipcd.ResultQuit {
		t.Fatalf("result = %v, want quit", result)
	}
	if len(sink.chunks) != 0 {
		t.Fatalf("quit produced %d reply chunks", len(sink.chunks))
	}
}

func TestBigAndChunkProduceIdenticalBytes(t *testing.T) {
	t.Parallel()

	token := newToken()
	handler := exercise.NewHandler(token)

	big := &captureSink{}
	if result := handler(token, []byte("big"), big); result != ipcd.ResultOK {
		t.Fatalf("big result = %v", result)
	}
	if len(big.chunks) != 1 {
		t.Fatalf("big replied in %d chunks, want 1", len(big.chunks))
	}

	chunk := &captureSink{}
	if result := handler(token, []byte("chunk"), chunk); result != ipcd.ResultOK {
		t.Fatalf("chunk result = %v", result)
	}
	if len(chunk.chunks) != 10000 {
		t.Fatalf("chunk replied in %d chunks, want 10000", len(chunk.chunks))
	}

	if !bytes.Equal(big.joined(), chunk.joined()) {
		t.Fatal("big and chunk reply bytes differ")
	}

	lines := strings.Split(strings.TrimSuffix(string(chunk.joined()), "\n"), "\n")
	if len(lines) != 10000 {
		t.Fatalf("reply has %d rows, want 10000", len(lines))
	}
	if want := fmt.Sprintf("big: %075d", 0); lines[0] != want {
		t.Fatalf("first row = %q, want %q", lines[0], want)
	}
	if want := fmt.Sprintf("big: %075d", 9999); lines[9999] != want {
		t.Fatalf("last row = %q, want %q", lines[9999], want)
	}
}

func TestSlowPacesEveryRow(t *testing.T) {
	t.Parallel()

	token := newToken()
	clk := &stubClock{}
	sink := &captureSink{}
	result := exercise.NewHandler(token, exercise.WithClock(clk))(token, []byte("slow"), sink)
	if result != ipcd.ResultOK {
		t.Fatalf("result = %v", result)
	}
	if len(sink.chunks) != 1000 {
		t.Fatalf("slow replied in %d chunks, want 1000", len(sink.chunks))
	}
	if len(clk.sleeps) != 1000 {
		t.Fatalf("slow slept %d times, want 1000", len(clk.sleeps))
	}
	for _, d := range clk.sleeps {
		if d != 10*time.Millisecond {
			t.Fatalf("sleep = %v, want 10ms", d)
		}
	}
	if want := fmt.Sprintf("big: %075d\n", 0); string(sink.chunks[0]) != want {
		t.Fatalf("first row = %q, want %q", sink.chunks[0], want)
	}
}

func TestSendbytesReceipts(t *testing.T) {
	t.Parallel()

	token := newToken()
	handler := exercise.NewHandler(token)

	cases := []struct {
		name    string
		command string
		want    string
	}{
		{"uniform", "sendbytes " + strings.Repeat("q", 7), "rcvd:q00000007\n"},
		{"single byte", "sendbytes z", "rcvd:z00000001\n"},
		{"empty ballast", "sendbytes ", "rcvd:?00000000\n"},
		{"corrupted", "sendbytes qqXqQ", "errs:2\n"},
	}
	for _, tc := range cases {
		sink := &captureSink{}
		if result := handler(token, []byte(tc.command), sink); result != ipcd.ResultOK {
			t.Fatalf("%s: result = %v", tc.name, result)
		}
		if got := string(sink.joined()); got != tc.want {
			t.Fatalf("%s: reply = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestHandlerReportsSinkFailure(t *testing.T) {
	t.Parallel()

	token := newToken()
	sink := &captureSink{err: errors.New("connection torn down")}
	if result := exercise.NewHandler(token)(token, []byte("ping"), sink); result != ipcd.ResultError {
		t.Fatalf("result = %v, want error", result)
	}
}
