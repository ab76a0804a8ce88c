package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quotebot/internal/aggregate"
	"quotebot/internal/provider"
)

// Operation names, shared by logs, metrics, Batch and the HTTP/CLI layers.
const (
	OpRates     = "rates"
	OpAnalysis  = "analysis"
	OpConverted = "converted"
	OpDigest    = "digest"
)

const batchLimit = 4

// GetConvertedRates prices crypto symbols in unit by composing the crypto
// quotes with the fiat rate of the crypto quote currency. Both legs go
// through the regular cached path; the result is stale if either leg is.
func (a *Aggregator) GetConvertedRates(ctx context.Context, symbols []string, unit string) (Result, error) {
	start := time.Now()
	unit = strings.ToUpper(strings.TrimSpace(unit))
	if unit == "" {
		unit = a.units[provider.KindFiat]
	}
	log := a.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("op", OpConverted),
		zap.String("unit", unit),
	)
	res := Result{Kind: provider.KindCrypto, Window: provider.WindowCurrent, Unit: unit, State: StateFailed}

	cryptoReq, err := a.request(provider.KindCrypto, symbols, "")
	if err != nil {
		return res, err
	}
	if unit == cryptoReq.Unit {
		out, err := a.current(ctx, cryptoReq, log)
		a.record(log, OpConverted, out, err, start)
		return out, err
	}
	fiatReq, err := a.request(provider.KindFiat, []string{cryptoReq.Unit}, unit)
	if err != nil {
		return res, err
	}

	var crypto, fiat Result
	var g errgroup.Group
	g.Go(func() error {
		r, err := a.current(ctx, cryptoReq, log)
		crypto = r
		return err
	})
	g.Go(func() error {
		r, err := a.current(ctx, fiatReq, log)
		fiat = r
		return err
	})
	if err := g.Wait(); err != nil {
		a.record(log, OpConverted, res, err, start)
		return res, err
	}

	rate, ok := fiat.Quotes.Get(cryptoReq.Unit)
	if !ok {
		err := failed(fmt.Errorf("no %s rate in %s", cryptoReq.Unit, unit))
		a.record(log, OpConverted, res, err, start)
		return res, err
	}

	res.Quotes = aggregate.Convert(crypto.Quotes, rate)
	res.Stale = crypto.Stale || fiat.Stale
	res.State = worse(crypto.State, fiat.State)
	res.StoredAt = crypto.StoredAt
	if fiat.StoredAt.Before(res.StoredAt) {
		res.StoredAt = fiat.StoredAt
	}
	if crypto.Provider != "" && fiat.Provider != "" {
		res.Provider = crypto.Provider + "," + fiat.Provider
	}
	a.record(log, OpConverted, res, nil, start)
	return res, nil
}

// DigestRequest selects the sections of a digest. Empty symbol lists use
// the configured defaults; WindowCurrent yields plain rates.
type DigestRequest struct {
	Window provider.Window
	Fiat   []string
	Crypto []string
}

// Section is one part of a digest. A failed section carries Error and
// does not fail the digest.
type Section struct {
	Result Result `json:"result"`
	Error  string `json:"error,omitempty"`
	Err    error  `json:"-"`
}

type Digest struct {
	Window      provider.Window `json:"window"`
	GeneratedAt time.Time       `json:"generated_at"`
	Fiat        Section         `json:"fiat"`
	Crypto      Section         `json:"crypto"`
}

// Digest fetches the fiat and crypto sections concurrently.
func (a *Aggregator) Digest(ctx context.Context, req DigestRequest) Digest {
	if req.Window == "" {
		req.Window = provider.WindowDay
	}
	d := Digest{Window: req.Window, GeneratedAt: a.now().UTC()}

	var g errgroup.Group
	g.Go(func() error {
		d.Fiat = a.section(ctx, provider.KindFiat, req.Fiat, req.Window)
		return nil
	})
	g.Go(func() error {
		d.Crypto = a.section(ctx, provider.KindCrypto, req.Crypto, req.Window)
		return nil
	})
	_ = g.Wait()
	a.metrics.Request(OpDigest, worse(d.Fiat.Result.State, d.Crypto.Result.State).String())
	return d
}

func (a *Aggregator) section(ctx context.Context, kind provider.Kind, symbols []string, window provider.Window) Section {
	var res Result
	var err error
	if window == provider.WindowCurrent {
		res, err = a.GetCurrentRates(ctx, kind, symbols)
	} else {
		res, err = a.GetChangeAnalysis(ctx, kind, symbols, window)
	}
	s := Section{Result: res, Err: err}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// Query is one entry of a Batch.
type Query struct {
	Op      string          `json:"op"`
	Kind    provider.Kind   `json:"kind,omitempty"`
	Symbols []string        `json:"symbols,omitempty"`
	Window  provider.Window `json:"window,omitempty"`
	Unit    string          `json:"unit,omitempty"`
}

type Answer struct {
	Query  Query  `json:"query"`
	Result Result `json:"result"`
	Error  string `json:"error,omitempty"`
	Err    error  `json:"-"`
}

// Run dispatches one query.
func (a *Aggregator) Run(ctx context.Context, q Query) (Result, error) {
	switch q.Op {
	case OpRates, "":
		return a.GetCurrentRates(ctx, q.Kind, q.Symbols)
	case OpAnalysis:
		return a.GetChangeAnalysis(ctx, q.Kind, q.Symbols, q.Window)
	case OpConverted:
		return a.GetConvertedRates(ctx, q.Symbols, q.Unit)
	}
	return Result{Kind: q.Kind, State: StateFailed}, fmt.Errorf("unknown operation %q", q.Op)
}

// Batch runs independent queries in parallel. Answers keep input order.
func (a *Aggregator) Batch(ctx context.Context, queries []Query) []Answer {
	out := make([]Answer, len(queries))
	var g errgroup.Group
	g.SetLimit(batchLimit)
	for i, q := range queries {
		g.Go(func() error {
			res, err := a.Run(ctx, q)
			out[i] = Answer{Query: q, Result: res, Err: err}
			if err != nil {
				out[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
