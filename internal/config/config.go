package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

type Server struct {
	Port               string `json:"port" mapstructure:"port"`
	RequestTimeoutSec  int    `json:"request_timeout_sec" mapstructure:"request_timeout_sec"`
	ShutdownTimeoutSec int    `json:"shutdown_timeout_sec" mapstructure:"shutdown_timeout_sec"`
	MaxBodyBytes       int64  `json:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type Log struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Transport configures retries shared by every upstream call.
type Transport struct {
	MaxRetries       int     `json:"max_retries" mapstructure:"max_retries"`
	BaseDelaySec     float64 `json:"base_delay_sec" mapstructure:"base_delay_sec"`
	JitterSec        float64 `json:"jitter_sec" mapstructure:"jitter_sec"`
	TimeoutSec       int     `json:"timeout_sec" mapstructure:"timeout_sec"`
	MaxRetryAfterSec int     `json:"max_retry_after_sec" mapstructure:"max_retry_after_sec"`
	MaxBodyBytes     int64   `json:"max_body_bytes" mapstructure:"max_body_bytes"`
	UserAgent        string  `json:"user_agent" mapstructure:"user_agent"`
}

type Cache struct {
	Backend       string `json:"backend" mapstructure:"backend"`
	TTLSec        int    `json:"ttl_sec" mapstructure:"ttl_sec"`
	MaxItems      int    `json:"max_items" mapstructure:"max_items"`
	Dir           string `json:"dir" mapstructure:"dir"`
	RedisAddr     string `json:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `json:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `json:"redis_db" mapstructure:"redis_db"`
	Prefix        string `json:"prefix" mapstructure:"prefix"`
	RetentionSec  int    `json:"retention_sec" mapstructure:"retention_sec"`
}

type Aggregator struct {
	FiatUnit    string `json:"fiat_unit" mapstructure:"fiat_unit"`
	CryptoUnit  string `json:"crypto_unit" mapstructure:"crypto_unit"`
	ConvertUnit string `json:"convert_unit" mapstructure:"convert_unit"`
}

// Provider holds the knobs shared by every adapter. Zero limits disable the
// corresponding decorator. MaxWaitMs caps how long a call queues on the rate
// limiter before it is refused as rate_limited; 0 means one second.
type Provider struct {
	Enabled               bool   `json:"enabled" mapstructure:"enabled"`
	BaseURL               string `json:"base_url" mapstructure:"base_url"`
	APIKey                string `json:"api_key" mapstructure:"api_key"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute" mapstructure:"max_requests_per_minute"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec" mapstructure:"min_request_interval_sec"`
	Burst                 int    `json:"burst" mapstructure:"burst"`
	BreakerFailures       int    `json:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerTimeoutSec     int    `json:"breaker_timeout_sec" mapstructure:"breaker_timeout_sec"`
	Lookback              int    `json:"lookback" mapstructure:"lookback"`
	MaxWaitMs             int    `json:"max_wait_ms" mapstructure:"max_wait_ms"`
}

// Chains lists provider names in priority order.
type Chains struct {
	Fiat          []string `json:"fiat" mapstructure:"fiat"`
	Crypto        []string `json:"crypto" mapstructure:"crypto"`
	FiatHistory   []string `json:"fiat_history" mapstructure:"fiat_history"`
	CryptoHistory []string `json:"crypto_history" mapstructure:"crypto_history"`
}

type Symbols struct {
	Fiat   []string `json:"fiat" mapstructure:"fiat"`
	Crypto []string `json:"crypto" mapstructure:"crypto"`
}

type Config struct {
	Server     Server              `json:"server" mapstructure:"server"`
	Log        Log                 `json:"log" mapstructure:"log"`
	Transport  Transport           `json:"transport" mapstructure:"transport"`
	Cache      Cache               `json:"cache" mapstructure:"cache"`
	Aggregator Aggregator          `json:"aggregator" mapstructure:"aggregator"`
	Providers  map[string]Provider `json:"providers" mapstructure:"providers"`
	Chains     Chains              `json:"chains" mapstructure:"chains"`
	Symbols    Symbols             `json:"symbols" mapstructure:"symbols"`
}

// Known adapter names.
const (
	ProviderExchangeRateAPI = "exchangerateapi"
	ProviderFrankfurter     = "frankfurter"
	ProviderCBR             = "cbr"
	ProviderCoinGecko       = "coingecko"
	ProviderCryptoCompare   = "cryptocompare"
)

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 30, ShutdownTimeoutSec: 10, MaxBodyBytes: 1 << 20},
		Log:    Log{Level: "info", Format: "json"},
		Transport: Transport{
			MaxRetries:       3,
			BaseDelaySec:     1,
			JitterSec:        1,
			TimeoutSec:       10,
			MaxRetryAfterSec: 60,
			MaxBodyBytes:     4 << 20,
			UserAgent:        "quotebot/1.0",
		},
		Cache: Cache{
			Backend:      "memory",
			TTLSec:       300,
			MaxItems:     1000,
			Dir:          "cache",
			Prefix:       "quotebot:",
			RetentionSec: 7 * 24 * 3600,
		},
		Aggregator: Aggregator{FiatUnit: "RUB", CryptoUnit: "USD", ConvertUnit: "RUB"},
		Providers: map[string]Provider{
			ProviderCBR: {
				Enabled:              true,
				BaseURL:              "https://www.cbr-xml-daily.ru",
				MaxRequestsPerMinute: 30,
				Burst:                2,
				BreakerFailures:      3,
				BreakerTimeoutSec:    60,
				Lookback:             4,
			},
			ProviderExchangeRateAPI: {
				Enabled:              true,
				BaseURL:              "https://api.exchangerate-api.com",
				MaxRequestsPerMinute: 30,
				Burst:                2,
				BreakerFailures:      3,
				BreakerTimeoutSec:    60,
			},
			ProviderFrankfurter: {
				Enabled:              true,
				BaseURL:              "https://api.frankfurter.app",
				MaxRequestsPerMinute: 30,
				Burst:                2,
				BreakerFailures:      3,
				BreakerTimeoutSec:    60,
			},
			ProviderCoinGecko: {
				Enabled:               true,
				BaseURL:               "https://api.coingecko.com/api/v3",
				MaxRequestsPerMinute:  10,
				MinRequestIntervalSec: 2,
				Burst:                 1,
				BreakerFailures:       3,
				BreakerTimeoutSec:     120,
			},
			ProviderCryptoCompare: {
				Enabled:              true,
				BaseURL:              "https://min-api.cryptocompare.com",
				MaxRequestsPerMinute: 30,
				Burst:                2,
				BreakerFailures:      3,
				BreakerTimeoutSec:    60,
			},
		},
		Chains: Chains{
			Fiat:          []string{ProviderCBR, ProviderExchangeRateAPI, ProviderFrankfurter},
			Crypto:        []string{ProviderCoinGecko, ProviderCryptoCompare},
			FiatHistory:   []string{ProviderCBR, ProviderFrankfurter},
			CryptoHistory: []string{ProviderCryptoCompare, ProviderCoinGecko},
		},
		Symbols: Symbols{
			Fiat:   []string{"USD", "EUR", "CNY"},
			Crypto: []string{"BTC", "ETH", "TON"},
		},
	}
}

// Load reads config from path (JSON or YAML by extension). If path is empty
// it falls back to $CONFIG_FILE and then ./config.json when present.
// Environment variables prefixed QUOTEBOT_ override any key, with dots
// replaced by underscores (QUOTEBOT_CACHE_BACKEND=redis). PORT overrides
// server.port.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUOTEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Default(), fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("parse config: %w", err)
	}
	if p := os.Getenv("PORT"); p != "" {
		cfg.Server.Port = p
	}
	return cfg, nil
}

// setDefaults registers every key of d with viper so AutomaticEnv can
// override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout_sec", d.Server.RequestTimeoutSec)
	v.SetDefault("server.shutdown_timeout_sec", d.Server.ShutdownTimeoutSec)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("transport.max_retries", d.Transport.MaxRetries)
	v.SetDefault("transport.base_delay_sec", d.Transport.BaseDelaySec)
	v.SetDefault("transport.jitter_sec", d.Transport.JitterSec)
	v.SetDefault("transport.timeout_sec", d.Transport.TimeoutSec)
	v.SetDefault("transport.max_retry_after_sec", d.Transport.MaxRetryAfterSec)
	v.SetDefault("transport.max_body_bytes", d.Transport.MaxBodyBytes)
	v.SetDefault("transport.user_agent", d.Transport.UserAgent)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl_sec", d.Cache.TTLSec)
	v.SetDefault("cache.max_items", d.Cache.MaxItems)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", d.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.prefix", d.Cache.Prefix)
	v.SetDefault("cache.retention_sec", d.Cache.RetentionSec)

	v.SetDefault("aggregator.fiat_unit", d.Aggregator.FiatUnit)
	v.SetDefault("aggregator.crypto_unit", d.Aggregator.CryptoUnit)
	v.SetDefault("aggregator.convert_unit", d.Aggregator.ConvertUnit)

	for name, p := range d.Providers {
		k := "providers." + name + "."
		v.SetDefault(k+"enabled", p.Enabled)
		v.SetDefault(k+"base_url", p.BaseURL)
		v.SetDefault(k+"api_key", p.APIKey)
		v.SetDefault(k+"max_requests_per_minute", p.MaxRequestsPerMinute)
		v.SetDefault(k+"min_request_interval_sec", p.MinRequestIntervalSec)
		v.SetDefault(k+"burst", p.Burst)
		v.SetDefault(k+"breaker_failures", p.BreakerFailures)
		v.SetDefault(k+"breaker_timeout_sec", p.BreakerTimeoutSec)
		v.SetDefault(k+"lookback", p.Lookback)
		v.SetDefault(k+"max_wait_ms", p.MaxWaitMs)
	}

	v.SetDefault("chains.fiat", d.Chains.Fiat)
	v.SetDefault("chains.crypto", d.Chains.Crypto)
	v.SetDefault("chains.fiat_history", d.Chains.FiatHistory)
	v.SetDefault("chains.crypto_history", d.Chains.CryptoHistory)

	v.SetDefault("symbols.fiat", d.Symbols.Fiat)
	v.SetDefault("symbols.crypto", d.Symbols.Crypto)
}

// Validate reports every problem found, joined.
// ProviderName is the canonical spelling of a provider name as used in
// providers.<name> sections and chain lists.
func ProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (c Config) Validate() error {
	var errs []error
	if c.Cache.TTLSec <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl_sec must be positive, got %d", c.Cache.TTLSec))
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "", "memory", "file":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Transport.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transport.max_retries must not be negative, got %d", c.Transport.MaxRetries))
	}

	known := map[string]bool{
		ProviderExchangeRateAPI: true,
		ProviderFrankfurter:     true,
		ProviderCBR:             true,
		ProviderCoinGecko:       true,
		ProviderCryptoCompare:   true,
	}
	for _, name := range sortedKeys(c.Providers) {
		if !known[ProviderName(name)] {
			errs = append(errs, fmt.Errorf("providers.%s: unknown provider", name))
		}
	}
	chains := []struct {
		name  string
		links []string
	}{
		{"fiat", c.Chains.Fiat},
		{"crypto", c.Chains.Crypto},
		{"fiat_history", c.Chains.FiatHistory},
		{"crypto_history", c.Chains.CryptoHistory},
	}
	for _, ch := range chains {
		for _, name := range ch.links {
			if !known[ProviderName(name)] {
				errs = append(errs, fmt.Errorf("chains.%s: unknown provider %q", ch.name, name))
			}
		}
	}
	if len(c.Chains.Fiat) == 0 && len(c.Chains.Crypto) == 0 {
		errs = append(errs, errors.New("at least one of chains.fiat and chains.crypto must be set"))
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]Provider) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
