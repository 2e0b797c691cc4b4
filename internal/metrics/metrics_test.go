package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"pkt.systems/ipcd/internal/metrics"
)

func TestSetsUseIsolatedRegistries(t *testing.T) {
	t.Parallel()

	// Two servers in one process must not collide on registration.
	a := metrics.NewSet()
	b := metrics.NewSet()
	a.ConnectionsAccepted.Inc()
	a.ConnectionsAccepted.Inc()
	b.ConnectionsAccepted.Inc()

	if body := scrape(t, a); !strings.Contains(body, "ipcd_connections_accepted_total 2") {
		t.Fatalf("set a exposition missing expected counter:\n%s", body)
	}
	if body := scrape(t, b); !strings.Contains(body, "ipcd_connections_accepted_total 1") {
		t.Fatalf("set b exposition missing expected counter:\n%s", body)
	}
}

func TestHandlerExposesAllInstruments(t *testing.T) {
	t.Parallel()

	s := metrics.NewSet()
	s.Commands.WithLabelValues("ping").Inc()
	s.Commands.WithLabelValues("sendbytes").Inc()
	s.ReplyBytes.Add(1024)
	s.WorkersBusy.Set(3)

	body := scrape(t, s)
	for _, want := range []string{
		`ipcd_commands_total{verb="ping"} 1`,
		`ipcd_commands_total{verb="sendbytes"} 1`,
		"ipcd_reply_bytes_total 1024",
		"ipcd_workers_busy 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}

func scrape(t *testing.T, s *metrics.Set) string {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}
