package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by the aggregation layer.
// All methods are safe on a nil receiver so components can run without
// metrics in tests.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ProviderOutcomesTotal   *prometheus.CounterVec
	TransportRetriesTotal   *prometheus.CounterVec
	CacheLookupsTotal       *prometheus.CounterVec
	AggregatorRequestsTotal *prometheus.CounterVec
	ChainResolveDuration    *prometheus.HistogramVec
	BreakerTransitionsTotal *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status_code"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),

		ProviderOutcomesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_provider_outcomes_total",
				Help: "Provider attempts by outcome",
			},
			[]string{"chain", "provider", "status"},
		),

		TransportRetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_transport_retries_total",
				Help: "Upstream retries scheduled by the transport",
			},
			[]string{"host", "reason"},
		),

		CacheLookupsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_cache_lookups_total",
				Help: "Cache lookups by result (fresh, stale, miss)",
			},
			[]string{"result"},
		),

		AggregatorRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_aggregator_requests_total",
				Help: "Aggregator requests by operation and terminal state",
			},
			[]string{"operation", "state"},
		),

		ChainResolveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quote_chain_resolve_duration_seconds",
				Help:    "Time spent walking a fallback chain",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"chain"},
		),

		BreakerTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quote_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"provider", "to"},
		),
	}
}

func (m *Metrics) Outcome(chain, provider, status string) {
	if m == nil {
		return
	}
	m.ProviderOutcomesTotal.WithLabelValues(chain, provider, status).Inc()
}

func (m *Metrics) Retry(host, reason string) {
	if m == nil {
		return
	}
	m.TransportRetriesTotal.WithLabelValues(host, reason).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Request(operation, state string) {
	if m == nil {
		return
	}
	m.AggregatorRequestsTotal.WithLabelValues(operation, state).Inc()
}

func (m *Metrics) Resolve(chain string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChainResolveDuration.WithLabelValues(chain).Observe(d.Seconds())
}

func (m *Metrics) BreakerTransition(provider, from, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitionsTotal.WithLabelValues(provider, to).Inc()
}

func (m *Metrics) HTTPRequest(path, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(path, method).Observe(d.Seconds())
}
