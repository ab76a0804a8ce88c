// Package cryptocompare reads crypto prices from min-api.cryptocompare.com.
package cryptocompare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quotebot/internal/httpx"
	"quotebot/internal/provider"
)

const defaultBaseURL = "https://min-api.cryptocompare.com"

type Config struct {
	Name    string
	BaseURL string
	APIKey  string
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "cryptocompare"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Fetch(ctx context.Context, req provider.Request) provider.Outcome {
	if req.Kind != provider.KindCrypto {
		return provider.Unsupported(p.cfg.Name, "kind "+string(req.Kind))
	}
	if req.Historical() {
		return p.fetchHistory(ctx, req)
	}
	res, err := p.client.Fetch(ctx, httpx.Request{
		URL:    p.cfg.BaseURL + "/data/pricemulti",
		Header: p.header(),
		Params: url.Values{
			"fsyms": {strings.Join(req.Symbols, ",")},
			"tsyms": {unit(req)},
		},
	})
	if err != nil {
		return provider.FromError(p.cfg.Name, err)
	}
	return p.Normalize(req, res)
}

// errorBody is what the API sends with a 200 status when a call fails.
type errorBody struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
}

func (p *Provider) checkError(b []byte) error {
	var e errorBody
	if json.Unmarshal(b, &e) != nil || e.Response != "Error" {
		return nil
	}
	if strings.Contains(strings.ToLower(e.Message), "rate limit") {
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, e.Message)
	}
	return fmt.Errorf("%w: %s", provider.ErrMalformed, e.Message)
}

// Normalize reads a pricemulti or pricehistorical body: {"BTC":{"USD":65000}}.
func (p *Provider) Normalize(req provider.Request, res *httpx.Response) provider.Outcome {
	if err := p.checkError(res.Body); err != nil {
		return provider.FromError(p.cfg.Name, err)
	}
	var body map[string]map[string]json.RawMessage
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("decode: %w", err))
	}
	asOf := time.Now()
	if req.Historical() {
		asOf = req.At
	}
	to := unit(req)
	found := make(map[string]provider.Quote, len(req.Symbols))
	for _, sym := range req.Symbols {
		prices, ok := body[sym]
		if !ok {
			continue
		}
		if q, err := provider.ParseQuote(sym, prices[to], asOf, to); err == nil {
			found[sym] = q
		}
	}
	set := provider.Collect(req.Symbols, found)
	if set.Len() == 0 {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("none of %v in response", req.Symbols))
	}
	return provider.Success(p.cfg.Name, set)
}

// fetchHistory issues one pricehistorical call per symbol.
func (p *Provider) fetchHistory(ctx context.Context, req provider.Request) provider.Outcome {
	found := make(map[string]provider.Quote, len(req.Symbols))
	var lastErr error
	for _, sym := range req.Symbols {
		if ctx.Err() != nil {
			return provider.Unavailable(p.cfg.Name, ctx.Err())
		}
		res, err := p.client.Fetch(ctx, httpx.Request{
			URL:    p.cfg.BaseURL + "/data/pricehistorical",
			Header: p.header(),
			Params: url.Values{
				"fsym":  {sym},
				"tsyms": {unit(req)},
				"ts":    {strconv.FormatInt(req.At.Unix(), 10)},
			},
		})
		if err != nil {
			lastErr = err
			if errors.Is(err, provider.ErrRateLimited) {
				break
			}
			continue
		}
		one := req
		one.Symbols = []string{sym}
		o := p.Normalize(one, res)
		if !o.OK() {
			lastErr = o.Err
			if o.Status == provider.StatusRateLimited {
				break
			}
			continue
		}
		q, _ := o.Quotes.Get(sym)
		found[sym] = q
	}
	set := provider.Collect(req.Symbols, found)
	if set.Len() > 0 {
		return provider.Success(p.cfg.Name, set)
	}
	if lastErr == nil {
		lastErr = errors.New("no symbols requested")
	}
	return provider.FromError(p.cfg.Name, lastErr)
}

func (p *Provider) header() http.Header {
	if p.cfg.APIKey == "" {
		return nil
	}
	return http.Header{"Authorization": {"Apikey " + p.cfg.APIKey}}
}

func unit(req provider.Request) string {
	if req.Unit == "" {
		return "USD"
	}
	return req.Unit
}
