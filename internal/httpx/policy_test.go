package httpx_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"quotebot/internal/httpx"
)

func TestDelayBounds(t *testing.T) {
	t.Parallel()

	// base=1s, jitter in [0,1s): step n is in [2^n, 2^n+1) seconds.
	for attempt, upper := range []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second} {
		lo := httpx.Delay(time.Second, attempt, time.Second, 0)
		hi := httpx.Delay(time.Second, attempt, time.Second, 0.999999)
		require.Equal(t, time.Second<<attempt, lo)
		require.Less(t, hi, upper)
		require.GreaterOrEqual(t, hi, lo)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	d, ok := httpx.ParseRetryAfter("7", now)
	require.True(t, ok)
	require.Equal(t, 7*time.Second, d)

	d, ok = httpx.ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now)
	require.True(t, ok)
	require.Equal(t, 30*time.Second, d)

	d, ok = httpx.ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now)
	require.True(t, ok)
	require.Zero(t, d)

	_, ok = httpx.ParseRetryAfter("soon", now)
	require.False(t, ok)
	_, ok = httpx.ParseRetryAfter("-5", now)
	require.False(t, ok)
	_, ok = httpx.ParseRetryAfter("", now)
	require.False(t, ok)
}
