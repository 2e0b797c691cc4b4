package exercise

import (
	"context"
	"fmt"
	"io"
	"sync"

	"pkt.systems/ipcd/client"
	"pkt.systems/ipcd/internal/svcfields"
	"pkt.systems/pslog"
)

// driverThread is the per-thread state of the concurrent client driver. Each
// thread is pinned to one stamp letter; base bytecounts are staggered by
// batchsize once the alphabet wraps so no two threads ever send the same
// (letter, length) pair.
type driverThread struct {
	stamp     byte
	bytecount int
	batchsize int
	good      int
	errs      int
}

func (d *driverThread) run(ctx context.Context, out io.Writer, path string, logger pslog.Logger) {
	opts := client.ConnectOptions{
		WaitIfBusy: true,
		// Multi-threaded clients must not wander the process working
		// directory mid-connect.
		DisallowChdir: true,
	}
	for k := 0; k < d.batchsize; k++ {
		if err := DoSendBytes(ctx, out, path, d.bytecount+k, d.stamp, opts); err != nil {
			logger.Warn("sendbytes failed", "stamp", string(d.stamp), "bytecount", d.bytecount+k, "error", err)
			d.errs++
		} else {
			d.good++
		}
	}
}

// Multiple runs the concurrent client driver: nrThreads workers each issue
// batchsize sendbytes requests on fresh connections, every payload stamped
// with the thread's letter. It prints the summary line
//
//	client (good G) (join J), (errors E)
//
// and returns 0 when every request succeeded, 1 otherwise.
func Multiple(ctx context.Context, out io.Writer, logger pslog.Logger, path string, nrThreads, bytecount, batchsize int) int {
	if nrThreads < 1 {
		nrThreads = 1
	}
	if bytecount < 1 {
		bytecount = 1
	}
	if batchsize < 1 {
		batchsize = 1
	}
	logger = svcfields.WithSubsystem(logger, "client.multiple")

	lw := &lockedWriter{w: out}
	threads := make([]*driverThread, 0, nrThreads)
	var wg sync.WaitGroup
	for k := 0; k < nrThreads; k++ {
		d := &driverThread{
			stamp:     byte('A' + k%26),
			bytecount: bytecount + batchsize*(k/26),
			batchsize: batchsize,
		}
		threads = append(threads, d)
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.run(ctx, lw, path, logger)
		}()
	}
	wg.Wait()

	sumGood := 0
	sumErrors := 0
	// Goroutine joins cannot fail the way pthread_join can; the counter
	// stays in the summary so downstream parsers see a stable format.
	sumJoinErrors := 0
	for _, d := range threads {
		sumGood += d.good
		sumErrors += d.errs
	}
	fmt.Fprintf(out, "client (good %d) (join %d), (errors %d)\n", sumGood, sumJoinErrors, sumErrors)
	if sumJoinErrors+sumErrors > 0 {
		return 1
	}
	return 0
}

// lockedWriter keeps concurrently printed result lines from interleaving
// mid-line.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
