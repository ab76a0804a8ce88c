// Package exchangerateapi reads latest fiat rates from exchangerate-api.com.
// The upstream quotes "units of X per 1 base"; quotes are inverted to
// "base per 1 X" so a RUB request yields how many roubles one dollar costs.
package exchangerateapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"quotebot/internal/httpx"
	"quotebot/internal/provider"
)

const defaultBaseURL = "https://api.exchangerate-api.com"

type Config struct {
	Name    string
	BaseURL string
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "exchangerate-api"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Fetch(ctx context.Context, req provider.Request) provider.Outcome {
	if req.Kind != provider.KindFiat {
		return provider.Unsupported(p.cfg.Name, "kind "+string(req.Kind))
	}
	if req.Historical() {
		return provider.Unsupported(p.cfg.Name, "historical rates")
	}
	res, err := p.client.Fetch(ctx, httpx.Request{
		URL: p.cfg.BaseURL + "/v4/latest/" + url.PathEscape(unit(req)),
	})
	if err != nil {
		return provider.FromError(p.cfg.Name, err)
	}
	return p.Normalize(req, res)
}

type latestResponse struct {
	Base            string                     `json:"base"`
	Date            string                     `json:"date"`
	TimeLastUpdated int64                      `json:"time_last_updated"`
	Rates           map[string]json.RawMessage `json:"rates"`
}

// Normalize turns a /v4/latest body into quotes for the requested symbols.
// A symbol missing from rates or carrying an unusable number is omitted.
func (p *Provider) Normalize(req provider.Request, res *httpx.Response) provider.Outcome {
	var body latestResponse
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("decode: %w", err))
	}
	if len(body.Rates) == 0 {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("response has no rates"))
	}
	base := unit(req)
	if body.Base != "" && !strings.EqualFold(body.Base, base) {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("base %q, want %q", body.Base, base))
	}

	asOf := time.Now().UTC()
	if body.TimeLastUpdated > 0 {
		asOf = time.Unix(body.TimeLastUpdated, 0).UTC()
	} else if d, err := time.Parse(time.DateOnly, body.Date); err == nil {
		asOf = d
	}

	found := make(map[string]provider.Quote, len(req.Symbols))
	for _, sym := range req.Symbols {
		raw, ok := body.Rates[sym]
		if !ok {
			continue
		}
		v, err := provider.ParseValue(raw)
		if err != nil {
			continue
		}
		inv, err := provider.Invert(v)
		if err != nil {
			continue
		}
		q, err := provider.NewQuote(sym, inv, asOf, base)
		if err != nil {
			continue
		}
		found[sym] = q
	}
	set := provider.Collect(req.Symbols, found)
	if set.Len() == 0 {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("none of %v in response", req.Symbols))
	}
	return provider.Success(p.cfg.Name, set)
}

func unit(req provider.Request) string {
	if req.Unit == "" {
		return "RUB"
	}
	return req.Unit
}
