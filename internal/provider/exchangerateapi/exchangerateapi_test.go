package exchangerateapi_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"quotebot/internal/httpx"
	"quotebot/internal/provider"
	"quotebot/internal/provider/exchangerateapi"
)

func newClient() *httpx.Client {
	c := httpx.New(5 * time.Second)
	c.Policy = httpx.Policy{MaxRetries: 1, Base: time.Millisecond, Timeout: time.Second}
	return c
}

func TestFetchInvertsRates(t *testing.T) {
	t.Parallel()

	// Arrange: rates quoted as "X per 1 RUB".
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v4/latest/RUB", r.URL.Path)
		_, _ = w.Write([]byte(`{"base":"RUB","date":"2025-03-01","time_last_updated":1740787201,
			"rates":{"RUB":1,"USD":0.0125,"EUR":0.01,"CNY":"bogus"}}`))
	}))
	defer srv.Close()
	p := exchangerateapi.New(exchangerateapi.Config{BaseURL: srv.URL}, newClient())
	req := provider.NewRequest(provider.KindFiat, []string{"USD", "EUR", "CNY"}, "RUB")

	// Act
	o := p.Fetch(t.Context(), req)

	// Assert: CNY is dropped, USD and EUR are inverted.
	require.True(t, o.OK(), "outcome: %+v", o)
	require.Equal(t, []string{"USD", "EUR"}, o.Quotes.Symbols())
	usd, _ := o.Quotes.Get("USD")
	require.Equal(t, "80", usd.Value.String())
	require.Equal(t, "RUB", usd.Unit)
	require.Equal(t, time.Unix(1740787201, 0).UTC(), usd.AsOf)
	eur, _ := o.Quotes.Get("EUR")
	require.Equal(t, "100", eur.Value.String())
}

func TestNormalizeEdgeCases(t *testing.T) {
	t.Parallel()

	p := exchangerateapi.New(exchangerateapi.Config{}, newClient())
	req := provider.NewRequest(provider.KindFiat, []string{"USD", "EUR"}, "RUB")

	tests := []struct {
		name   string
		body   string
		status provider.Status
		syms   []string
	}{
		{name: "not json", body: `<html>`, status: provider.StatusMalformed},
		{name: "no rates", body: `{"base":"RUB"}`, status: provider.StatusMalformed},
		{name: "wrong base", body: `{"base":"USD","rates":{"EUR":0.9}}`, status: provider.StatusMalformed},
		{name: "all invalid", body: `{"base":"RUB","rates":{"USD":0,"EUR":-1}}`, status: provider.StatusMalformed},
		{name: "partial", body: `{"base":"RUB","rates":{"USD":null,"EUR":0.01}}`, status: provider.StatusSuccess, syms: []string{"EUR"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			o := p.Normalize(req, &httpx.Response{Status: 200, Body: []byte(tt.body)})

			// Assert
			require.Equal(t, tt.status, o.Status)
			if tt.status == provider.StatusMalformed {
				require.True(t, errors.Is(o.Err, provider.ErrMalformed))
				return
			}
			require.Equal(t, tt.syms, o.Quotes.Symbols())
		})
	}
}

func TestFetchRejectsHistoryAndCrypto(t *testing.T) {
	t.Parallel()

	p := exchangerateapi.New(exchangerateapi.Config{BaseURL: "http://127.0.0.1:1"}, newClient())

	o := p.Fetch(t.Context(), provider.NewRequest(provider.KindFiat, []string{"USD"}, "RUB").AsOf(time.Now()))
	require.Equal(t, provider.StatusUnavailable, o.Status)
	require.ErrorIs(t, o.Err, provider.ErrUnsupported)

	o = p.Fetch(t.Context(), provider.NewRequest(provider.KindCrypto, []string{"BTC"}, "USD"))
	require.ErrorIs(t, o.Err, provider.ErrUnsupported)
}

func TestFetchMapsRateLimit(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	p := exchangerateapi.New(exchangerateapi.Config{BaseURL: srv.URL}, newClient())

	// Act
	o := p.Fetch(t.Context(), provider.NewRequest(provider.KindFiat, []string{"USD"}, "RUB"))

	// Assert
	require.Equal(t, provider.StatusRateLimited, o.Status)
	require.True(t, o.HasRetryAfter)
	require.Equal(t, time.Hour, o.RetryAfter)
}
