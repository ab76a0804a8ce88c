package frankfurter_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"quotebot/internal/httpx"
	"quotebot/internal/provider"
	"quotebot/internal/provider/frankfurter"
)

func newClient() *httpx.Client {
	c := httpx.New(5 * time.Second)
	c.Policy = httpx.Policy{MaxRetries: 1, Base: time.Millisecond, Timeout: time.Second}
	return c
}

func TestFetchLatest(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/latest", r.URL.Path)
		require.Equal(t, "EUR", r.URL.Query().Get("from"))
		require.Equal(t, "USD,CNY", r.URL.Query().Get("to"))
		_, _ = w.Write([]byte(`{"amount":1.0,"base":"EUR","date":"2025-02-28","rates":{"USD":1.25,"CNY":8}}`))
	}))
	defer srv.Close()
	p := frankfurter.New(frankfurter.Config{BaseURL: srv.URL}, newClient())

	// Act
	o := p.Fetch(t.Context(), provider.NewRequest(provider.KindFiat, []string{"USD", "CNY"}, "EUR"))

	// Assert
	require.True(t, o.OK())
	usd, _ := o.Quotes.Get("USD")
	require.Equal(t, "0.8", usd.Value.String())
	cny, _ := o.Quotes.Get("CNY")
	require.Equal(t, "0.125", cny.Value.String())
	require.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), cny.AsOf)
}

func TestFetchHistoricalUsesDatePath(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2025-02-22", r.URL.Path)
		_, _ = w.Write([]byte(`{"amount":1.0,"base":"EUR","date":"2025-02-21","rates":{"USD":1.05}}`))
	}))
	defer srv.Close()
	p := frankfurter.New(frankfurter.Config{BaseURL: srv.URL}, newClient())
	at := time.Date(2025, 2, 22, 9, 0, 0, 0, time.UTC)

	// Act
	o := p.Fetch(t.Context(), provider.NewRequest(provider.KindFiat, []string{"USD"}, "EUR").AsOf(at))

	// Assert: the upstream may answer with the previous business day.
	require.True(t, o.OK())
	usd, _ := o.Quotes.Get("USD")
	require.Equal(t, time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC), usd.AsOf)
}

func TestFetchUnknownBaseIsUnavailable(t *testing.T) {
	t.Parallel()

	// Arrange: the upstream answers 404 for a base it does not publish.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
	}))
	defer srv.Close()
	p := frankfurter.New(frankfurter.Config{BaseURL: srv.URL}, newClient())

	// Act
	o := p.Fetch(t.Context(), provider.NewRequest(provider.KindFiat, []string{"USD"}, "RUB"))

	// Assert
	require.Equal(t, provider.StatusUnavailable, o.Status)
}

func TestNormalizeBadDate(t *testing.T) {
	t.Parallel()

	p := frankfurter.New(frankfurter.Config{}, newClient())
	o := p.Normalize(provider.NewRequest(provider.KindFiat, []string{"USD"}, "EUR"),
		&httpx.Response{Body: []byte(`{"base":"EUR","rates":{"USD":1.1}}`)})
	require.Equal(t, provider.StatusMalformed, o.Status)
}
