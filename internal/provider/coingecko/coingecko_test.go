package coingecko_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"quotebot/internal/httpx"
	"quotebot/internal/provider"
	"quotebot/internal/provider/coingecko"
)

func newClient() *httpx.Client {
	c := httpx.New(5 * time.Second)
	c.Policy = httpx.Policy{MaxRetries: 1, Base: time.Millisecond, Timeout: time.Second}
	return c
}

func TestFetchSimplePrice(t *testing.T) {
	t.Parallel()

	// Arrange: TON carries a zero price and must be dropped.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/simple/price", r.URL.Path)
		require.Equal(t, "bitcoin,ethereum,the-open-network", r.URL.Query().Get("ids"))
		require.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		require.Equal(t, "demo", r.Header.Get("X-Cg-Demo-Api-Key"))
		_, _ = w.Write([]byte(`{
			"bitcoin":{"usd":65000.5,"last_updated_at":1740787200},
			"ethereum":{"usd":3400},
			"the-open-network":{"usd":0}
		}`))
	}))
	defer srv.Close()
	p := coingecko.New(coingecko.Config{BaseURL: srv.URL, APIKey: "demo"}, newClient())

	// Act
	o := p.Fetch(t.Context(), provider.NewRequest(provider.KindCrypto, []string{"BTC", "ETH", "TON"}, "USD"))

	// Assert
	require.True(t, o.OK())
	require.Equal(t, []string{"BTC", "ETH"}, o.Quotes.Symbols())
	btc, _ := o.Quotes.Get("BTC")
	require.Equal(t, "65000.5", btc.Value.String())
	require.Equal(t, time.Unix(1740787200, 0).UTC(), btc.AsOf)
}

func TestFetchHistoryPartial(t *testing.T) {
	t.Parallel()

	// Arrange: bitcoin resolves, ethereum has no market data.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "22-02-2025", r.URL.Query().Get("date"))
		switch {
		case strings.HasPrefix(r.URL.Path, "/coins/bitcoin/history"):
			_, _ = w.Write([]byte(`{"id":"bitcoin","market_data":{"current_price":{"usd":60000}}}`))
		default:
			_, _ = w.Write([]byte(`{"id":"ethereum"}`))
		}
	}))
	defer srv.Close()
	p := coingecko.New(coingecko.Config{BaseURL: srv.URL}, newClient())
	at := time.Date(2025, 2, 22, 9, 0, 0, 0, time.UTC)

	// Act
	o := p.Fetch(t.Context(), provider.NewRequest(provider.KindCrypto, []string{"BTC", "ETH"}, "USD").AsOf(at))

	// Assert
	require.True(t, o.OK())
	require.Equal(t, []string{"BTC"}, o.Quotes.Symbols())
	btc, _ := o.Quotes.Get("BTC")
	require.Equal(t, time.Date(2025, 2, 22, 0, 0, 0, 0, time.UTC), btc.AsOf)
}

func TestFetchHistoryAllFailedIsMalformed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"bitcoin"}`))
	}))
	defer srv.Close()
	p := coingecko.New(coingecko.Config{BaseURL: srv.URL}, newClient())

	o := p.Fetch(t.Context(), provider.NewRequest(provider.KindCrypto, []string{"BTC"}, "USD").AsOf(time.Now()))
	require.Equal(t, provider.StatusMalformed, o.Status)
}

func TestFetchUnknownSymbolsUnsupported(t *testing.T) {
	t.Parallel()

	p := coingecko.New(coingecko.Config{BaseURL: "http://127.0.0.1:1"}, newClient())
	o := p.Fetch(t.Context(), provider.NewRequest(provider.KindCrypto, []string{"NOPE"}, "USD"))
	require.ErrorIs(t, o.Err, provider.ErrUnsupported)
}

func TestCustomIDs(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "pepe", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"pepe":{"usd":"0.0000091"}}`))
	}))
	defer srv.Close()
	p := coingecko.New(coingecko.Config{BaseURL: srv.URL, IDs: map[string]string{"pepe": "pepe"}}, newClient())

	// Act
	o := p.Fetch(t.Context(), provider.NewRequest(provider.KindCrypto, []string{"PEPE"}, "USD"))

	// Assert
	require.True(t, o.OK())
	q, _ := o.Quotes.Get("PEPE")
	require.Equal(t, "0.0000091", q.Value.String())
}
