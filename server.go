package ipcd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"pkt.systems/ipcd/internal/metrics"
	"pkt.systems/ipcd/internal/wire"
)

// Server owns one IPC endpoint: it binds the path, accepts connections, and
// dispatches each request to the application handler on a fixed worker pool.
// Start is synchronous and returns only after the cooperative shutdown has
// drained every accepted connection and removed the endpoint.
type Server struct {
	cfg     Config
	logger  pslog.Logger
	handler Handler
	appData any
	stats   *metrics.Set

	conns   chan net.Conn
	workers sync.WaitGroup

	mu            sync.Mutex
	listener      net.Listener
	metricsLn     net.Listener
	started       bool
	stopRequested bool

	quitOnce  sync.Once
	readyOnce sync.Once
	readyCh   chan struct{}
	doneCh    chan struct{}
}

// Option configures server instances.
type Option func(*serverOptions)

type serverOptions struct {
	Logger pslog.Logger
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *serverOptions) {
		o.Logger = l
	}
}

// NewServer constructs a server for cfg. handler is dispatched once per
// accepted connection; appData is handed back to it verbatim so the
// application can verify the dispatch layers did not mix payloads.
func NewServer(cfg Config, handler Handler, appData any, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, errors.New("ipcd: handler is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("svc", "server"),
		handler: handler,
		appData: appData,
		stats:   metrics.NewSet(),
		readyCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start binds the endpoint and serves until a handler returns ResultQuit or
// Shutdown is called. Once shutdown begins no new connection is accepted,
// but every already-accepted connection's reply stream drains to completion
// before Start removes the endpoint and returns.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("ipcd: server already started")
	}
	s.started = true
	s.mu.Unlock()
	defer close(s.doneCh)

	if err := s.claimEndpoint(); err != nil {
		return err
	}
	ln, err := wire.Listen(s.cfg.Path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	// A shutdown may have been requested before the listener existed; honor
	// it now that there is something to close.
	stopped := s.stopRequested
	s.mu.Unlock()
	if stopped {
		_ = ln.Close()
	}

	metricsSrv, metricsLn, err := s.startMetrics()
	if err != nil {
		_ = ln.Close()
		_ = os.Remove(s.cfg.Path)
		return err
	}
	s.mu.Lock()
	s.metricsLn = metricsLn
	s.mu.Unlock()

	s.conns = make(chan net.Conn)
	for i := 0; i < s.cfg.NrThreads; i++ {
		s.workers.Add(1)
		go s.worker(i)
	}
	s.signalReady()
	s.logger.Info("listening", "path", s.cfg.Path, "threads", s.cfg.NrThreads)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.stats.ConnectionsAccepted.Inc()
		s.conns <- conn
	}

	close(s.conns)
	s.workers.Wait()
	if err := os.Remove(s.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove endpoint failed", "path", s.cfg.Path, "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Close()
		_ = metricsLn.Close()
	}
	s.logger.Info("shutdown complete", "path", s.cfg.Path)
	return nil
}

// claimEndpoint refuses to displace a live daemon but clears a stale socket
// left behind by a crashed one.
func (s *Server) claimEndpoint() error {
	switch state := GetActiveState(s.cfg.Path); state {
	case StateListening:
		return fmt.Errorf("ipcd: server already running at %q", s.cfg.Path)
	case StateNotListening:
		s.logger.Warn("removing stale endpoint", "path", s.cfg.Path)
		if err := os.Remove(s.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("ipcd: remove stale endpoint %q: %w", s.cfg.Path, err)
		}
	case StateInvalidPath:
		if _, err := os.Stat(s.cfg.Path); err == nil {
			return fmt.Errorf("ipcd: path %q exists and is not a socket", s.cfg.Path)
		}
	}
	return nil
}

// Shutdown initiates the cooperative shutdown and waits for Start to finish
// draining, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	s.beginShutdown()
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once the endpoint is bound and the accept loop is running.
func (s *Server) Ready() <-chan struct{} {
	return s.readyCh
}

// ListenerAddr returns the bound endpoint address, or nil before Start.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// MetricsAddr returns the bound metrics address, or nil when metrics are
// disabled or the server has not started.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() { close(s.readyCh) })
}

func (s *Server) beginShutdown() {
	s.quitOnce.Do(func() {
		s.logger.Info("shutdown requested, draining connections")
		s.mu.Lock()
		s.stopRequested = true
		ln := s.listener
		s.mu.Unlock()
		if ln != nil {
			_ = ln.Close()
		}
	})
}

func (s *Server) worker(id int) {
	defer s.workers.Done()
	logger := s.logger.With("worker", id)
	for conn := range s.conns {
		s.serveConn(conn, logger.With("conn", xid.New().String()))
	}
}

// serveConn handles one accepted connection: read one framed command,
// dispatch, flush the reply stream, close. A failure here never affects
// other connections.
func (s *Server) serveConn(conn net.Conn, logger pslog.Logger) {
	defer conn.Close()
	s.stats.WorkersBusy.Inc()
	defer s.stats.WorkersBusy.Dec()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	command, err := wire.ReadMessage(br)
	if err != nil {
		logger.Debug("read command failed", "error", err)
		return
	}
	verb := commandVerb(command)
	s.stats.Commands.WithLabelValues(verb).Inc()
	logger.Debug("dispatching command", "verb", verb, "bytes", len(command))

	sink := &replySink{w: bw, stats: s.stats}
	result := s.handler(s.appData, command, sink)

	if sink.err != nil {
		logger.Warn("reply emit failed", "verb", verb, "error", sink.err)
	} else {
		err := wire.WriteFlush(bw)
		if err == nil {
			err = bw.Flush()
		}
		if err != nil {
			logger.Warn("terminate reply failed", "verb", verb, "error", err)
		}
	}

	switch result {
	case ResultQuit:
		logger.Info("quit sentinel received", "verb", verb)
		s.beginShutdown()
	case ResultError:
		logger.Warn("handler reported failure", "verb", verb)
	}
}

// commandVerb extracts the first token for logging and metrics labels.
func commandVerb(command []byte) string {
	if i := bytes.IndexByte(command, ' '); i >= 0 {
		command = command[:i]
	}
	if len(command) > 32 {
		command = command[:32]
	}
	return string(command)
}

// replySink appends chunks to one connection's reply stream. It is owned by
// exactly one worker; no locking is needed.
type replySink struct {
	w     *bufio.Writer
	stats *metrics.Set
	err   error
}

// Emit writes p as the next reply chunk and pushes it to the client so slow
// producers stream incrementally. The first failure sticks.
func (rs *replySink) Emit(p []byte) error {
	if rs.err != nil {
		return rs.err
	}
	if err := wire.WriteChunk(rs.w, p); err != nil {
		rs.err = err
		return err
	}
	if err := rs.w.Flush(); err != nil {
		rs.err = err
		return err
	}
	rs.stats.ReplyBytes.Add(float64(len(p)))
	return nil
}
