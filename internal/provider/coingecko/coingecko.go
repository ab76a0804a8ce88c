// Package coingecko reads crypto prices from the CoinGecko public API.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quotebot/internal/httpx"
	"quotebot/internal/provider"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// DefaultIDs maps ticker symbols to CoinGecko coin ids.
var DefaultIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"TON":  "the-open-network",
	"SOL":  "solana",
	"USDT": "tether",
	"USDC": "usd-coin",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
	"DOGE": "dogecoin",
	"TRX":  "tron",
	"ADA":  "cardano",
	"LTC":  "litecoin",
}

type Config struct {
	Name    string
	BaseURL string
	// APIKey is sent as x-cg-demo-api-key when set.
	APIKey string
	// IDs overrides or extends DefaultIDs.
	IDs map[string]string
}

type Provider struct {
	cfg    Config
	client *httpx.Client
	ids    map[string]string
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "coingecko"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	ids := make(map[string]string, len(DefaultIDs)+len(cfg.IDs))
	for k, v := range DefaultIDs {
		ids[k] = v
	}
	for k, v := range cfg.IDs {
		ids[strings.ToUpper(k)] = v
	}
	return &Provider{cfg: cfg, client: hc, ids: ids}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Fetch(ctx context.Context, req provider.Request) provider.Outcome {
	if req.Kind != provider.KindCrypto {
		return provider.Unsupported(p.cfg.Name, "kind "+string(req.Kind))
	}
	if req.Historical() {
		return p.fetchHistory(ctx, req)
	}
	ids := make([]string, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		if id, ok := p.ids[sym]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return provider.Unsupported(p.cfg.Name, fmt.Sprintf("no coin ids for %v", req.Symbols))
	}
	res, err := p.client.Fetch(ctx, httpx.Request{
		URL:    p.cfg.BaseURL + "/simple/price",
		Header: p.header(),
		Params: url.Values{
			"ids":                     {strings.Join(ids, ",")},
			"vs_currencies":           {strings.ToLower(unit(req))},
			"include_last_updated_at": {"true"},
		},
	})
	if err != nil {
		return provider.FromError(p.cfg.Name, err)
	}
	return p.Normalize(req, res)
}

// Normalize reads a /simple/price body: {"bitcoin":{"usd":65000,"last_updated_at":1700000000}}.
func (p *Provider) Normalize(req provider.Request, res *httpx.Response) provider.Outcome {
	var body map[string]map[string]json.RawMessage
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("decode: %w", err))
	}
	vs := strings.ToLower(unit(req))
	now := time.Now()

	found := make(map[string]provider.Quote, len(req.Symbols))
	for _, sym := range req.Symbols {
		coin, ok := body[p.ids[sym]]
		if !ok {
			continue
		}
		asOf := now
		if raw, ok := coin["last_updated_at"]; ok {
			var ts int64
			if json.Unmarshal(raw, &ts) == nil && ts > 0 {
				asOf = time.Unix(ts, 0)
			}
		}
		if q, err := provider.ParseQuote(sym, coin[vs], asOf, unit(req)); err == nil {
			found[sym] = q
		}
	}
	set := provider.Collect(req.Symbols, found)
	if set.Len() == 0 {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("none of %v in response", req.Symbols))
	}
	return provider.Success(p.cfg.Name, set)
}

type historyResponse struct {
	ID         string `json:"id"`
	MarketData *struct {
		CurrentPrice map[string]json.RawMessage `json:"current_price"`
	} `json:"market_data"`
}

// fetchHistory asks /coins/{id}/history once per symbol. Symbols that fail
// are omitted; a rate limit stops the walk and keeps what was resolved.
func (p *Provider) fetchHistory(ctx context.Context, req provider.Request) provider.Outcome {
	day := req.At.UTC()
	asOf := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	vs := strings.ToLower(unit(req))

	found := make(map[string]provider.Quote, len(req.Symbols))
	var lastErr error
	for _, sym := range req.Symbols {
		id, ok := p.ids[sym]
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return provider.Unavailable(p.cfg.Name, ctx.Err())
		}
		res, err := p.client.Fetch(ctx, httpx.Request{
			URL:    p.cfg.BaseURL + "/coins/" + url.PathEscape(id) + "/history",
			Header: p.header(),
			Params: url.Values{
				"date":         {asOf.Format("02-01-2006")},
				"localization": {"false"},
			},
		})
		if err != nil {
			lastErr = err
			if errors.Is(err, provider.ErrRateLimited) {
				break
			}
			continue
		}
		var body historyResponse
		if err := json.Unmarshal(res.Body, &body); err != nil {
			lastErr = fmt.Errorf("%s: %w: %v", sym, provider.ErrMalformed, err)
			continue
		}
		if body.MarketData == nil {
			lastErr = fmt.Errorf("%s: %w: no market_data", sym, provider.ErrMalformed)
			continue
		}
		q, err := provider.ParseQuote(sym, body.MarketData.CurrentPrice[vs], asOf, unit(req))
		if err != nil {
			lastErr = err
			continue
		}
		found[sym] = q
	}
	set := provider.Collect(req.Symbols, found)
	if set.Len() > 0 {
		return provider.Success(p.cfg.Name, set)
	}
	if lastErr == nil {
		return provider.Unsupported(p.cfg.Name, fmt.Sprintf("no coin ids for %v", req.Symbols))
	}
	return provider.FromError(p.cfg.Name, lastErr)
}

func (p *Provider) header() http.Header {
	if p.cfg.APIKey == "" {
		return nil
	}
	return http.Header{"x-cg-demo-api-key": {p.cfg.APIKey}}
}

func unit(req provider.Request) string {
	if req.Unit == "" {
		return "USD"
	}
	return req.Unit
}
