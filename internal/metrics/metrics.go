package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sale outcomes recorded by ObserveSale.
const (
	SaleCommitted         = "committed"
	SaleDuplicate         = "duplicate"
	SaleInsufficientStock = "insufficient_stock"
	SaleNotFound          = "not_found"
	SaleRejected          = "rejected"
	SaleFailed            = "failed"
)

// Metrics owns its registry so tests can build independent instances. All
// methods are safe on a nil receiver.
type Metrics struct {
	registry        *prometheus.Registry
	sales           *prometheus.CounterVec
	packetsSold     prometheus.Counter
	payments        prometheus.Counter
	statsCache      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seedledger",
			Name:      "sales_total",
			Help:      "Sale submissions by terminal outcome.",
		}, []string{"outcome"}),
		packetsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seedledger",
			Name:      "packets_sold_total",
			Help:      "Packets decremented by committed sales.",
		}),
		payments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seedledger",
			Name:      "payments_total",
			Help:      "Payments applied to existing sales.",
		}),
		statsCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seedledger",
			Name:      "stats_cache_lookups_total",
			Help:      "Stats cache lookups by result.",
		}, []string{"result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "seedledger",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sales, m.packetsSold, m.payments, m.statsCache, m.requestDuration,
	)
	return m
}

func (m *Metrics) ObserveSale(outcome string, packets int) {
	if m == nil {
		return
	}
	m.sales.WithLabelValues(outcome).Inc()
	if outcome == SaleCommitted && packets > 0 {
		m.packetsSold.Add(float64(packets))
	}
}

func (m *Metrics) ObservePayment() {
	if m == nil {
		return
	}
	m.payments.Inc()
}

func (m *Metrics) ObserveStatsCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.statsCache.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRequest(method string, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
