package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSaleCountsOutcomesAndPackets(t *testing.T) {
	m := New()
	m.ObserveSale(SaleCommitted, 3)
	m.ObserveSale(SaleCommitted, 2)
	m.ObserveSale(SaleInsufficientStock, 9)

	if got := testutil.ToFloat64(m.sales.WithLabelValues(SaleCommitted)); got != 2 {
		t.Fatalf("committed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sales.WithLabelValues(SaleInsufficientStock)); got != 1 {
		t.Fatalf("insufficient = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.packetsSold); got != 5 {
		t.Fatalf("packets sold = %v, want 5", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSale(SaleCommitted, 1)
	m.ObservePayment()
	m.ObserveStatsCache(true)
	m.ObserveRequest(http.MethodGet, "/x", 200, time.Millisecond)
}

func TestHandlerExposesCustomSeries(t *testing.T) {
	m := New()
	m.ObservePayment()
	m.ObserveStatsCache(false)
	m.ObserveRequest(http.MethodPost, "/api/v1/sales", http.StatusCreated, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, series := range []string{
		"seedledger_payments_total 1",
		`seedledger_stats_cache_lookups_total{result="miss"} 1`,
		"seedledger_http_request_duration_seconds_count",
	} {
		if !strings.Contains(body, series) {
			t.Fatalf("expected %q in exposition", series)
		}
	}
}
