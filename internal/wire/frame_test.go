package wire_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"pkt.systems/ipcd/internal/wire"
)

func TestWriteMessageRoundTrip(t *testing.T) {
	t.Parallel()

	payloads := [][]byte{
		[]byte("ping"),
		[]byte(strings.Repeat("Q", wire.MaxFramePayload)),
		[]byte(strings.Repeat("Q", wire.MaxFramePayload+1)),
		[]byte(strings.Repeat("Q", 3*wire.MaxFramePayload+17)),
	}
	for _, want := range payloads {
		var buf bytes.Buffer
		if err := wire.WriteMessage(&buf, want); err != nil {
			t.Fatalf("WriteMessage(%d bytes): %v", len(want), err)
		}
		got, err := wire.ReadMessage(&buf)
		if err != nil {
			t.Fatalf("ReadMessage(%d bytes): %v", len(want), err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("round trip of %d bytes mismatched: got %d bytes", len(want), len(got))
		}
	}
}

func TestWriteChunkSplitsOversizePayloads(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{'z'}, wire.MaxFramePayload+100)
	if err := wire.WriteChunk(&buf, payload); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	var hdr [4]byte
	if _, err := io.ReadFull(&buf, hdr[:]); err != nil {
		t.Fatalf("read first header: %v", err)
	}
	if n := binary.BigEndian.Uint32(hdr[:]); n != wire.MaxFramePayload {
		t.Fatalf("first frame length = %d, want %d", n, wire.MaxFramePayload)
	}
	buf.Next(wire.MaxFramePayload)
	if _, err := io.ReadFull(&buf, hdr[:]); err != nil {
		t.Fatalf("read second header: %v", err)
	}
	if n := binary.BigEndian.Uint32(hdr[:]); n != 100 {
		t.Fatalf("second frame length = %d, want 100", n)
	}
}

func TestReadMessageEmptyFlush(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := wire.WriteFlush(&buf); err != nil {
		t.Fatalf("WriteFlush: %v", err)
	}
	got, err := wire.ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil message, got %v", got)
	}
}

func TestReadMessageMultipleChunksReassemble(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	for _, chunk := range []string{"big: ", "00001", "\n"} {
		if err := wire.WriteChunk(&buf, []byte(chunk)); err != nil {
			t.Fatalf("WriteChunk(%q): %v", chunk, err)
		}
	}
	if err := wire.WriteFlush(&buf); err != nil {
		t.Fatalf("WriteFlush: %v", err)
	}
	got, err := wire.ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(got) != "big: 00001\n" {
		t.Fatalf("reassembled message = %q", got)
	}
}

func TestReadMessageEOFBeforeAnyFrame(t *testing.T) {
	t.Parallel()

	_, err := wire.ReadMessage(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadMessageTruncatedAfterData(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := wire.WriteChunk(&buf, []byte("partial")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	// No flush frame follows, so the message is cut short.
	_, err := wire.ReadMessage(&buf)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadMessageRejectsOversizeFrameHeader(t *testing.T) {
	t.Parallel()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], wire.MaxFramePayload+1)
	_, err := wire.ReadMessage(bytes.NewReader(hdr[:]))
	if err == nil || !strings.Contains(err.Error(), "exceeds max") {
		t.Fatalf("expected oversize frame error, got %v", err)
	}
}
