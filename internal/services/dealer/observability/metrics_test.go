package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveMoveCountsByKindAndResult(t *testing.T) {
	m := NewMetrics("dealer")
	m.ObserveMove("hit", "ok", 20*time.Millisecond)
	m.ObserveMove("hit", "ok", 30*time.Millisecond)
	m.ObserveMove("stand", "SPONSORSHIP_EXHAUSTED", time.Second)

	if got := testutil.ToFloat64(m.moves.WithLabelValues("hit", "ok")); got != 2 {
		t.Fatalf("hit ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.moves.WithLabelValues("stand", "SPONSORSHIP_EXHAUSTED")); got != 1 {
		t.Fatalf("stand exhausted = %v, want 1", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveMove("deal", "ok", time.Millisecond)
	m.ObserveSponsorAttempt("failed")
	m.ObserveLookup("search", "found")
	m.ObserveDuplicateMatch()
	m.ObserveJournalReuse()
	m.ObserveEvent("HitRequested", "succeeded")
	m.GameStarted()
	m.GameFinished()
}

func TestHandlerExposesServiceLabel(t *testing.T) {
	m := NewMetrics("dealer")
	m.ObserveSponsorAttempt("sponsored")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `housedealer_sponsor_attempts_total{outcome="sponsored",service="dealer"} 1`) {
		t.Fatalf("metrics output missing sponsor counter:\n%s", body)
	}
}
