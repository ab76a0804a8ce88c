// Package aggregator answers quote queries from the cache when it is fresh,
// refreshes through the fallback chains when it is not, and falls back to a
// stale entry when every provider fails.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quotebot/internal/cache"
	"quotebot/internal/metrics"
	"quotebot/internal/provider"
)

var (
	ErrUnknownKind   = errors.New("no chain configured for kind")
	ErrInvalidWindow = errors.New("window must be day or week")
	ErrNoSymbols     = errors.New("no symbols requested")
)

// Resolver is satisfied by *chain.Chain.
type Resolver interface {
	Resolve(ctx context.Context, req provider.Request) provider.Outcome
}

// Aggregator owns the chains and the cache for the process lifetime.
type Aggregator struct {
	cache   *cache.Cache
	chains  map[provider.Kind]Resolver
	history map[provider.Kind]Resolver
	units   map[provider.Kind]string
	symbols map[provider.Kind][]string
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics
	flight  singleflight.Group
}

type Option func(*Aggregator)

// WithHistory sets the chain used for reference snapshots of kind.
func WithHistory(kind provider.Kind, r Resolver) Option {
	return func(a *Aggregator) { a.history[kind] = r }
}

// WithUnit overrides the quote currency for kind (RUB for fiat and USD for
// crypto by default).
func WithUnit(kind provider.Kind, unit string) Option {
	return func(a *Aggregator) {
		if unit != "" {
			a.units[kind] = unit
		}
	}
}

// WithDefaultSymbols sets what an empty symbol list expands to.
func WithDefaultSymbols(kind provider.Kind, symbols []string) Option {
	return func(a *Aggregator) {
		if len(symbols) > 0 {
			a.symbols[kind] = provider.NormalizeSymbols(symbols)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(a *Aggregator) {
		if log != nil {
			a.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// New builds an Aggregator. current maps each kind to its latest-quote chain.
func New(c *cache.Cache, current map[provider.Kind]Resolver, opts ...Option) *Aggregator {
	a := &Aggregator{
		cache:   c,
		chains:  make(map[provider.Kind]Resolver, len(current)),
		history: make(map[provider.Kind]Resolver),
		units: map[provider.Kind]string{
			provider.KindFiat:   "RUB",
			provider.KindCrypto: "USD",
		},
		symbols: map[provider.Kind][]string{
			provider.KindFiat:   {"USD", "EUR", "CNY"},
			provider.KindCrypto: {"BTC", "ETH", "TON"},
		},
		now: time.Now,
		log: zap.NewNop(),
	}
	for k, r := range current {
		a.chains[k] = r
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Unit returns the quote currency used for kind.
func (a *Aggregator) Unit(kind provider.Kind) string { return a.units[kind] }

// DefaultSymbols returns a copy of the configured defaults for kind.
func (a *Aggregator) DefaultSymbols(kind provider.Kind) []string {
	return append([]string(nil), a.symbols[kind]...)
}

func (a *Aggregator) request(kind provider.Kind, symbols []string, unit string) (provider.Request, error) {
	if _, ok := a.chains[kind]; !ok {
		return provider.Request{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(symbols) == 0 {
		symbols = a.symbols[kind]
	}
	if unit == "" {
		unit = a.units[kind]
	}
	req := provider.NewRequest(kind, symbols, unit)
	if len(req.Symbols) == 0 {
		return provider.Request{}, ErrNoSymbols
	}
	return req, nil
}

// failed builds the error for a request that has neither live data nor cache.
// It matches both ErrNoCacheAvailable and, through cause, ErrAllProvidersExhausted.
func failed(cause error) error {
	if errors.Is(cause, provider.ErrNoCacheAvailable) && errors.Is(cause, provider.ErrAllProvidersExhausted) {
		return cause
	}
	if !errors.Is(cause, provider.ErrAllProvidersExhausted) {
		cause = fmt.Errorf("%w: %w", provider.ErrAllProvidersExhausted, cause)
	}
	return fmt.Errorf("%w: %w", provider.ErrNoCacheAvailable, cause)
}

// coalesce runs refresh once per key no matter how many callers ask for it.
// The shared run is detached from every caller's cancellation and is bounded
// by the transport timeouts instead; each caller stops waiting as soon as
// its own ctx is done.
func (a *Aggregator) coalesce(ctx context.Context, key string, base Result, log *zap.Logger, refresh func(context.Context) (Result, error)) (Result, error) {
	ch := a.flight.DoChan(key, func() (any, error) {
		return refresh(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		if r.Shared {
			log.Debug("shared in-flight refresh", zap.String("key", key))
		}
		res, _ := r.Val.(Result)
		return res, r.Err
	case <-ctx.Done():
		res := base
		res.State = StateFailed
		return res, ctx.Err()
	}
}

func (a *Aggregator) record(log *zap.Logger, op string, res Result, err error, start time.Time) {
	a.metrics.Request(op, res.State.String())
	fields := []zap.Field{
		zap.String("state", res.State.String()),
		zap.Int("symbols", res.Quotes.Len()),
		zap.Duration("took", time.Since(start)),
	}
	switch {
	case err != nil:
		log.Warn("query failed", append(fields, zap.Error(err))...)
	case res.State == StateDegraded:
		log.Warn("serving stale cache", append(fields, zap.Time("stored_at", res.StoredAt))...)
	default:
		log.Debug("query done", fields...)
	}
}
