package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"quotebot/internal/metrics"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	// Arrange
	m := metrics.New(prometheus.NewRegistry())

	// Act
	m.Outcome("fiat", "cbr", "success")
	m.Outcome("fiat", "cbr", "success")
	m.Retry("api.coingecko.com", "rate_limited")
	m.CacheLookup("stale")
	m.Request("current_rates", "updated")
	m.BreakerTransition("cbr", "closed", "open")
	m.Resolve("fiat", 150*time.Millisecond)
	m.HTTPRequest("/api/rates", "GET", 200, time.Millisecond)

	// Assert
	require.Equal(t, 2.0, testutil.ToFloat64(m.ProviderOutcomesTotal.WithLabelValues("fiat", "cbr", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TransportRetriesTotal.WithLabelValues("api.coingecko.com", "rate_limited")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("stale")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.AggregatorRequestsTotal.WithLabelValues("current_rates", "updated")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTransitionsTotal.WithLabelValues("cbr", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/api/rates", "GET", "200")))
	require.Equal(t, 1, testutil.CollectAndCount(m.ChainResolveDuration))
}

func TestNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.Outcome("a", "b", "c")
		m.Retry("h", "r")
		m.CacheLookup("miss")
		m.Request("op", "failed")
		m.Resolve("fiat", time.Second)
		m.BreakerTransition("p", "a", "b")
		m.HTTPRequest("/", "GET", 500, time.Second)
	})
}
