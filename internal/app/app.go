// Package app wires config into a ready Aggregator: transport, adapters,
// decorators, chains, cache and metrics. Both binaries build through it.
package app

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"quotebot/internal/aggregator"
	"quotebot/internal/cache"
	"quotebot/internal/chain"
	"quotebot/internal/config"
	"quotebot/internal/httpx"
	"quotebot/internal/metrics"
	"quotebot/internal/provider"
	"quotebot/internal/provider/breaker"
	"quotebot/internal/provider/cbr"
	"quotebot/internal/provider/coingecko"
	"quotebot/internal/provider/cryptocompare"
	"quotebot/internal/provider/exchangerateapi"
	"quotebot/internal/provider/frankfurter"
	"quotebot/internal/provider/ratelimit"
)

type App struct {
	Config     config.Config
	Log        *zap.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	HTTP       *httpx.Client
	Providers  map[string]provider.Provider
	Chains     map[string]*chain.Chain
	Cache      *cache.Cache
	Aggregator *aggregator.Aggregator
}

// Option adjusts the App before the chains are built.
type Option func(*App)

// WithDoer replaces the HTTP client used by every adapter.
func WithDoer(d httpx.Doer) Option {
	return func(a *App) { a.HTTP.HTTP = d }
}

// WithStore replaces the store selected by cfg.Cache.
func WithStore(s cache.Store) Option {
	return func(a *App) { a.Cache = cache.New(s, a.cacheOptions()...) }
}

// Build validates cfg and assembles the App.
func Build(cfg config.Config, log *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a := &App{
		Config:    cfg,
		Log:       log,
		Registry:  reg,
		Metrics:   metrics.New(reg),
		Providers: make(map[string]provider.Provider),
		Chains:    make(map[string]*chain.Chain),
	}
	a.HTTP = newHTTPClient(cfg.Transport, log, a.Metrics)

	for _, opt := range opts {
		opt(a)
	}

	if a.Cache == nil {
		store, err := cache.NewStore(cache.StoreConfig{
			Backend:   cfg.Cache.Backend,
			MaxItems:  cfg.Cache.MaxItems,
			Dir:       cfg.Cache.Dir,
			RedisAddr: cfg.Cache.RedisAddr,
			RedisPass: cfg.Cache.RedisPassword,
			RedisDB:   cfg.Cache.RedisDB,
			Prefix:    cfg.Cache.Prefix,
			Retention: time.Duration(cfg.Cache.RetentionSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		a.Cache = cache.New(store, a.cacheOptions()...)
	}

	for raw, pc := range cfg.Providers {
		name := config.ProviderName(raw)
		if !pc.Enabled {
			log.Info("provider disabled", zap.String("provider", name))
			continue
		}
		p, err := a.newProvider(name, pc)
		if err != nil {
			return nil, err
		}
		a.Providers[name] = p
	}

	current := make(map[provider.Kind]aggregator.Resolver)
	aggOpts := []aggregator.Option{
		aggregator.WithLogger(log.Named("aggregator")),
		aggregator.WithMetrics(a.Metrics),
		aggregator.WithUnit(provider.KindFiat, cfg.Aggregator.FiatUnit),
		aggregator.WithUnit(provider.KindCrypto, cfg.Aggregator.CryptoUnit),
		aggregator.WithDefaultSymbols(provider.KindFiat, cfg.Symbols.Fiat),
		aggregator.WithDefaultSymbols(provider.KindCrypto, cfg.Symbols.Crypto),
	}
	if c := a.chain("fiat", cfg.Chains.Fiat); c != nil {
		current[provider.KindFiat] = c
	}
	if c := a.chain("crypto", cfg.Chains.Crypto); c != nil {
		current[provider.KindCrypto] = c
	}
	if c := a.chain("fiat_history", cfg.Chains.FiatHistory); c != nil {
		aggOpts = append(aggOpts, aggregator.WithHistory(provider.KindFiat, c))
	}
	if c := a.chain("crypto_history", cfg.Chains.CryptoHistory); c != nil {
		aggOpts = append(aggOpts, aggregator.WithHistory(provider.KindCrypto, c))
	}
	if len(current) == 0 {
		return nil, fmt.Errorf("no enabled providers in chains.fiat or chains.crypto")
	}

	a.Aggregator = aggregator.New(a.Cache, current, aggOpts...)
	return a, nil
}

func (a *App) Close() error {
	if a.Cache == nil {
		return nil
	}
	return a.Cache.Close()
}

func (a *App) cacheOptions() []cache.Option {
	return []cache.Option{
		cache.WithTTL(time.Duration(a.Config.Cache.TTLSec) * time.Second),
		cache.WithLogger(a.Log.Named("cache")),
		cache.WithMetrics(a.Metrics),
	}
}

func newHTTPClient(t config.Transport, log *zap.Logger, m *metrics.Metrics) *httpx.Client {
	perAttempt := time.Duration(t.TimeoutSec) * time.Second
	c := httpx.New(perAttempt + 5*time.Second)
	if t.UserAgent != "" {
		c.UserAgent = t.UserAgent
	}
	c.Policy = httpx.Policy{
		MaxRetries:    t.MaxRetries,
		Base:          time.Duration(t.BaseDelaySec * float64(time.Second)),
		Jitter:        time.Duration(t.JitterSec * float64(time.Second)),
		Timeout:       perAttempt,
		MaxRetryAfter: time.Duration(t.MaxRetryAfterSec) * time.Second,
		MaxBodyBytes:  t.MaxBodyBytes,
	}
	c.Logger = log.Named("httpx")
	c.OnRetry = m.Retry
	return c
}

// Adapter builds the bare adapter for name, without decorators.
func Adapter(name string, pc config.Provider, hc *httpx.Client) (provider.Provider, error) {
	switch name {
	case config.ProviderExchangeRateAPI:
		return exchangerateapi.New(exchangerateapi.Config{Name: name, BaseURL: pc.BaseURL}, hc), nil
	case config.ProviderFrankfurter:
		return frankfurter.New(frankfurter.Config{Name: name, BaseURL: pc.BaseURL}, hc), nil
	case config.ProviderCBR:
		return cbr.New(cbr.Config{Name: name, BaseURL: pc.BaseURL, Lookback: pc.Lookback}, hc), nil
	case config.ProviderCoinGecko:
		return coingecko.New(coingecko.Config{Name: name, BaseURL: pc.BaseURL, APIKey: pc.APIKey}, hc), nil
	case config.ProviderCryptoCompare:
		return cryptocompare.New(cryptocompare.Config{Name: name, BaseURL: pc.BaseURL, APIKey: pc.APIKey}, hc), nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

// newProvider wraps the adapter as breaker(ratelimit(adapter)) so an open
// circuit fails without spending a token.
func (a *App) newProvider(name string, pc config.Provider) (provider.Provider, error) {
	p, err := Adapter(name, pc, a.HTTP)
	if err != nil {
		return nil, err
	}
	p = ratelimit.Wrap(p, pc.MaxRequestsPerMinute, time.Duration(pc.MinRequestIntervalSec)*time.Second, pc.Burst,
		time.Duration(pc.MaxWaitMs)*time.Millisecond)
	if pc.BreakerFailures > 0 {
		p = breaker.New(p, breaker.Settings{
			Failures:      uint32(pc.BreakerFailures),
			OpenTimeout:   time.Duration(pc.BreakerTimeoutSec) * time.Second,
			OnStateChange: a.Metrics.BreakerTransition,
		}, a.Log.Named("breaker"))
	}
	return p, nil
}

// chain returns nil when none of the named providers is enabled.
func (a *App) chain(name string, names []string) *chain.Chain {
	links := make([]provider.Provider, 0, len(names))
	for _, n := range names {
		p, ok := a.Providers[config.ProviderName(n)]
		if !ok {
			a.Log.Warn("chain link skipped, provider disabled", zap.String("chain", name), zap.String("provider", n))
			continue
		}
		links = append(links, p)
	}
	if len(links) == 0 {
		return nil
	}
	c := chain.New(name, links, a.Log.Named("chain"), a.Metrics)
	a.Chains[name] = c
	return c
}
