package exercise

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"pkt.systems/ipcd/client"
)

// Defaults for the sendbytes and multiple client subcommands.
const (
	DefaultSendBytecount   = 1024
	DefaultSendByte        = byte('x')
	DefaultDriverThreads   = 5
	DefaultDriverBytecount = 1
	DefaultDriverBatchsize = 10
)

// DoSendBytes sends one stamped ballast payload and prints the request/reply
// pair in the harness's parseable form:
//
//	sent:<C><nnnnnnnn> rcvd:<C><nnnnnnnn>
func DoSendBytes(ctx context.Context, out io.Writer, path string, bytecount int, stamp byte, opts client.ConnectOptions) error {
	payload := make([]byte, 0, len(sendbytesPrefix)+bytecount)
	payload = append(payload, sendbytesPrefix...)
	payload = append(payload, bytes.Repeat([]byte{stamp}, bytecount)...)

	reply, err := client.Send(ctx, path, opts, payload)
	if err != nil {
		return fmt.Errorf("client failed to sendbytes(%d, %q) to %q: %w", bytecount, stamp, path, err)
	}
	_, err = fmt.Fprintf(out, "sent:%c%08d %s\n", stamp, bytecount, bytes.TrimRight(reply, " \t\r\n"))
	return err
}
