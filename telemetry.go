package ipcd

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// startMetrics exposes the server's Prometheus registry on
// Config.MetricsListen. Empty address disables the endpoint.
func (s *Server) startMetrics() (*http.Server, net.Listener, error) {
	if s.cfg.MetricsListen == "" {
		return nil, nil, nil
	}
	ln, err := net.Listen("tcp", s.cfg.MetricsListen)
	if err != nil {
		return nil, nil, fmt.Errorf("ipcd: metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.stats.Handler())
	srv := &http.Server{Handler: mux}
	logger := s.logger.With("svc", "metrics")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics serve error", "error", err)
		}
	}()
	logger.Info("metrics enabled", "listen", s.cfg.MetricsListen)
	return srv, ln, nil
}
