package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.InvestigationStarted()
	m.InvestigationFinished("completed", time.Second)
	m.SourceObserved("breach_lookup", "success", "", time.Millisecond)
	m.SourceRetried("breach_lookup")
	m.CacheLookup("hit")
	m.CacheEvicted("ttl")
	m.CacheSize(3)
	m.HTTPRequest("GET", "/health", 200, time.Millisecond)
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.InvestigationStarted()
	m.InvestigationFinished("completed", 2*time.Second)
	m.SourceObserved("social_search", "timeout", "", time.Second)

	if got := testutil.ToFloat64(m.ActiveInvestigations); got != 0 {
		t.Errorf("active investigations = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.InvestigationsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed investigations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SourceInvocations.WithLabelValues("social_search", "timeout", "")); got != 1 {
		t.Errorf("source invocations = %v, want 1", got)
	}
}

func TestTelemetry_MetricsHandler(t *testing.T) {
	cfg := DefaultConfig()
	tel, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tel.Metrics().CacheLookup("miss")

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "osintforge_cache_lookups_total") {
		t.Error("metrics output should contain osintforge_cache_lookups_total")
	}
}

func TestNewLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	logger, err := NewLogger("verbose", "console", nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(-1) {
		t.Error("debug should be disabled at info level")
	}
}
