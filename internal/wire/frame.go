// Package wire implements the length-framed message layer carried over the
// local IPC socket. A message is a sequence of data frames terminated by a
// flush frame; writes larger than MaxFramePayload are split transparently so
// callers only ever deal in whole messages or reply chunks.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFramePayload is the largest payload carried by a single frame.
	MaxFramePayload = 65512
	// MaxMessageSize bounds a reassembled message. Anything larger is
	// assumed to be a corrupt header rather than a legitimate payload.
	MaxMessageSize = 256 << 20

	headerSize = 4
)

// ErrMessageTooLarge is returned when a peer announces more data than
// MaxMessageSize across one message.
var ErrMessageTooLarge = errors.New("wire: message exceeds maximum size")

// WriteChunk writes p as one or more data frames. It does not terminate the
// message; callers emit any number of chunks and then call WriteFlush.
func WriteChunk(w io.Writer, p []byte) error {
	var hdr [headerSize]byte
	for len(p) > 0 {
		n := len(p)
		if n > MaxFramePayload {
			n = MaxFramePayload
		}
		binary.BigEndian.PutUint32(hdr[:], uint32(n))
		if _, err := w.Write(hdr[:]); err != nil {
			return fmt.Errorf("wire: write frame header: %w", err)
		}
		if _, err := w.Write(p[:n]); err != nil {
			return fmt.Errorf("wire: write frame payload: %w", err)
		}
		p = p[n:]
	}
	return nil
}

// WriteFlush terminates the current message with a zero-length frame.
func WriteFlush(w io.Writer) error {
	var hdr [headerSize]byte
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write flush: %w", err)
	}
	return nil
}

// WriteMessage writes p as a complete message: data frames plus flush.
func WriteMessage(w io.Writer, p []byte) error {
	if err := WriteChunk(w, p); err != nil {
		return err
	}
	return WriteFlush(w)
}

// ReadMessage reads frames until the flush marker and returns the
// reassembled payload. An immediate flush yields an empty, non-nil slice.
func ReadMessage(r io.Reader) ([]byte, error) {
	var hdr [headerSize]byte
	buf := []byte{}
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF && len(buf) > 0 {
				return nil, fmt.Errorf("wire: truncated message: %w", io.ErrUnexpectedEOF)
			}
			return nil, err
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if n == 0 {
			return buf, nil
		}
		if n > MaxFramePayload {
			return nil, fmt.Errorf("wire: frame payload %d exceeds max %d", n, MaxFramePayload)
		}
		if len(buf)+int(n) > MaxMessageSize {
			return nil, ErrMessageTooLarge
		}
		off := len(buf)
		buf = append(buf, make([]byte, n)...)
		if _, err := io.ReadFull(r, buf[off:]); err != nil {
			return nil, fmt.Errorf("wire: read frame payload: %w", err)
		}
	}
}
