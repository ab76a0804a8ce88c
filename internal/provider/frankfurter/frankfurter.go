// Package frankfurter reads ECB reference rates from the Frankfurter API,
// latest and by date.
package frankfurter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"quotebot/internal/httpx"
	"quotebot/internal/provider"
)

const defaultBaseURL = "https://api.frankfurter.app"

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
		cfg.Name = "frankfurter"
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
	path := "/latest"
	if req.Historical() {
		path = "/" + req.At.UTC().Format(time.DateOnly)
	}
	res, err := p.client.Fetch(ctx, httpx.Request{
		URL: p.cfg.BaseURL + path,
		Params: url.Values{
			"from": {unit(req)},
			"to":   {strings.Join(req.Symbols, ",")},
		},
	})
	if err != nil {
		return provider.FromError(p.cfg.Name, err)
	}
	return p.Normalize(req, res)
}

type ratesResponse struct {
	Amount json.RawMessage            `json:"amount"`
	Base   string                     `json:"base"`
	Date   string                     `json:"date"`
	Rates  map[string]json.RawMessage `json:"rates"`
}

// Normalize inverts "X per 1 base" into "base per 1 X", scaled by amount.
func (p *Provider) Normalize(req provider.Request, res *httpx.Response) provider.Outcome {
	var body ratesResponse
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("decode: %w", err))
	}
	if body.Rates == nil {
		return provider.Malformed(p.cfg.Name, errors.New("response has no rates"))
	}
	base := unit(req)
	asOf, err := time.Parse(time.DateOnly, body.Date)
	if err != nil {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("date %q: %w", body.Date, err))
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
		if len(body.Amount) > 0 {
			amount, err := provider.ParseValue(body.Amount)
			if err != nil {
				continue
			}
			v = v.Div(amount)
		}
		inv, err := provider.Invert(v)
		if err != nil {
			continue
		}
		if q, err := provider.NewQuote(sym, inv, asOf, base); err == nil {
			found[sym] = q
		}
	}
	set := provider.Collect(req.Symbols, found)
	if set.Len() == 0 {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("none of %v in response", req.Symbols))
	}
	return provider.Success(p.cfg.Name, set)
}

func unit(req provider.Request) string {
	if req.Unit == "" {
		return "EUR"
	}
	return req.Unit
}
