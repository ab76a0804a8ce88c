// Package cbr reads official Bank of Russia rates from the cbr-xml-daily
// JSON mirror. It only quotes against RUB.
package cbr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quotebot/internal/httpx"
	"quotebot/internal/provider"
)

const defaultBaseURL = "https://www.cbr-xml-daily.ru"

type Config struct {
	Name    string
	BaseURL string
	// Lookback is how many earlier days to try when the archive has no file
	// for the requested date (weekends, holidays).
	Lookback int
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "cbr"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 4
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Fetch(ctx context.Context, req provider.Request) provider.Outcome {
	if req.Kind != provider.KindFiat {
		return provider.Unsupported(p.cfg.Name, "kind "+string(req.Kind))
	}
	if req.Unit != "" && req.Unit != "RUB" {
		return provider.Unsupported(p.cfg.Name, "unit "+req.Unit)
	}
	if !req.Historical() {
		res, err := p.client.Fetch(ctx, httpx.Request{URL: p.cfg.BaseURL + "/daily_json.js"})
		if err != nil {
			return provider.FromError(p.cfg.Name, err)
		}
		return p.Normalize(req, res)
	}

	day := req.At.UTC()
	var lastErr error
	for i := 0; i <= p.cfg.Lookback; i++ {
		res, err := p.client.Fetch(ctx, httpx.Request{URL: p.cfg.BaseURL + archivePath(day)})
		if err == nil {
			return p.Normalize(req, res)
		}
		lastErr = err
		var he *httpx.Error
		if !errors.As(err, &he) || he.Status != http.StatusNotFound {
			break
		}
		day = day.AddDate(0, 0, -1)
	}
	return provider.FromError(p.cfg.Name, lastErr)
}

func archivePath(day time.Time) string {
	return fmt.Sprintf("/archive/%04d/%02d/%02d/daily_json.js", day.Year(), int(day.Month()), day.Day())
}

type valute struct {
	CharCode string          `json:"CharCode"`
	Nominal  json.RawMessage `json:"Nominal"`
	Value    json.RawMessage `json:"Value"`
}

type dailyResponse struct {
	Date   time.Time         `json:"Date"`
	Valute map[string]valute `json:"Valute"`
}

// Normalize divides Value by Nominal: CBR quotes some currencies per 10 or
// 100 units.
func (p *Provider) Normalize(req provider.Request, res *httpx.Response) provider.Outcome {
	var body dailyResponse
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("decode: %w", err))
	}
	if len(body.Valute) == 0 {
		return provider.Malformed(p.cfg.Name, errors.New("response has no Valute"))
	}
	asOf := body.Date
	if asOf.IsZero() {
		asOf = time.Now()
	}

	found := make(map[string]provider.Quote, len(req.Symbols))
	for _, sym := range req.Symbols {
		if sym == "RUB" {
			continue
		}
		v, ok := body.Valute[sym]
		if !ok {
			continue
		}
		value, err := provider.ParseValue(v.Value)
		if err != nil {
			continue
		}
		if len(v.Nominal) > 0 {
			nominal, err := provider.ParseValue(v.Nominal)
			if err != nil {
				continue
			}
			value = value.Div(nominal)
		}
		if q, err := provider.NewQuote(sym, value, asOf, "RUB"); err == nil {
			found[sym] = q
		}
	}
	set := provider.Collect(req.Symbols, found)
	if set.Len() == 0 {
		return provider.Malformed(p.cfg.Name, fmt.Errorf("none of %v in response", req.Symbols))
	}
	return provider.Success(p.cfg.Name, set)
}
