package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quotebot/internal/aggregate"
	"quotebot/internal/aggregator"
	"quotebot/internal/app"
	"quotebot/internal/config"
	"quotebot/internal/httpx"
	"quotebot/internal/logger"
	"quotebot/internal/provider"
)

type rootFlags struct {
	config string
	level  string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "fetch",
		Short: "One-shot quote lookups through the same chains as the server",
		Long: `fetch resolves quotes once and prints the result as JSON.

Examples:
  fetch rates --kind fiat --symbols USD,EUR
  fetch analysis --kind crypto --symbols BTC --window week
  fetch converted --symbols BTC,TON --unit RUB
  fetch probe coingecko --symbols BTC
  fetch dump https://www.cbr-xml-daily.ru/daily_json.js`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&f.config, "config", "", "path to a config file (json or yaml)")
	root.PersistentFlags().StringVar(&f.level, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		newRatesCmd(f),
		newAnalysisCmd(f),
		newConvertedCmd(f),
		newDigestCmd(f),
		newProbeCmd(f),
		newDumpCmd(f),
	)
	return root
}

func (f *rootFlags) build(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	log := logger.NewWithWriter(f.level, "console", cmd.ErrOrStderr())
	return app.Build(cfg, log)
}

func newRatesCmd(f *rootFlags) *cobra.Command {
	var kind, symbols string
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Current rates for one kind",
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := provider.ParseKind(kind)
			if err != nil {
				return err
			}
			a, err := f.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Aggregator.GetCurrentRates(cmd.Context(), k, aggregate.ParseSymbols(symbols))
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "fiat", "fiat or crypto")
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated symbols (default set when empty)")
	return cmd
}

func newAnalysisCmd(f *rootFlags) *cobra.Command {
	var kind, symbols, window string
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Current rates with change over a day or a week",
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := provider.ParseKind(kind)
			if err != nil {
				return err
			}
			w, err := provider.ParseWindow(window)
			if err != nil {
				return err
			}
			a, err := f.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Aggregator.GetChangeAnalysis(cmd.Context(), k, aggregate.ParseSymbols(symbols), w)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "fiat", "fiat or crypto")
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated symbols (default set when empty)")
	cmd.Flags().StringVar(&window, "window", "day", "day or week")
	return cmd
}

func newConvertedCmd(f *rootFlags) *cobra.Command {
	var symbols, unit string
	cmd := &cobra.Command{
		Use:   "converted",
		Short: "Crypto rates converted into a fiat unit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := f.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			u := aggregate.CanonicalSymbol(unit)
			if u == "" {
				u = a.Config.Aggregator.ConvertUnit
			}
			res, err := a.Aggregator.GetConvertedRates(cmd.Context(), aggregate.ParseSymbols(symbols), u)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated crypto symbols (default set when empty)")
	cmd.Flags().StringVar(&unit, "unit", "", "target fiat unit (aggregator.convert_unit when empty)")
	return cmd
}

func newDigestCmd(f *rootFlags) *cobra.Command {
	var window, fiat, crypto string
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Fiat and crypto sections side by side",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := provider.ParseWindow(window)
			if err != nil {
				return err
			}
			a, err := f.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			d := a.Aggregator.Digest(cmd.Context(), aggregator.DigestRequest{
				Window: w,
				Fiat:   aggregate.ParseSymbols(fiat),
				Crypto: aggregate.ParseSymbols(crypto),
			})
			if err := printJSON(cmd.OutOrStdout(), d); err != nil {
				return err
			}
			if d.Fiat.Err != nil && d.Crypto.Err != nil {
				return fmt.Errorf("both sections failed: %w", d.Fiat.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&window, "window", "day", "current, day or week")
	cmd.Flags().StringVar(&fiat, "fiat", "", "fiat symbols")
	cmd.Flags().StringVar(&crypto, "crypto", "", "crypto symbols")
	return cmd
}

type probeReport struct {
	Provider  string            `json:"provider"`
	Kind      provider.Kind     `json:"kind"`
	Status    string            `json:"status"`
	Quotes    provider.QuoteSet `json:"quotes"`
	Error     string            `json:"error,omitempty"`
	ElapsedMs int64             `json:"elapsed_ms"`
}

// newProbeCmd calls one adapter directly, bypassing chain, breaker, rate
// limiter and cache.
func newProbeCmd(f *rootFlags) *cobra.Command {
	var kind, symbols, window string
	cmd := &cobra.Command{
		Use:   "probe PROVIDER",
		Short: "Call a single provider without fallback or cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := f.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			name := config.ProviderName(args[0])
			pc, ok := a.Config.Providers[name]
			if !ok {
				return fmt.Errorf("unknown provider %q", name)
			}
			p, err := app.Adapter(name, pc, a.HTTP)
			if err != nil {
				return err
			}

			k := kindOf(a.Config, name)
			if kind != "" {
				if k, err = provider.ParseKind(kind); err != nil {
					return err
				}
			}
			unit := a.Config.Aggregator.FiatUnit
			list := a.Config.Symbols.Fiat
			if k == provider.KindCrypto {
				unit = a.Config.Aggregator.CryptoUnit
				list = a.Config.Symbols.Crypto
			}
			if s := aggregate.ParseSymbols(symbols); len(s) > 0 {
				list = s
			}
			req := provider.NewRequest(k, list, unit)
			if window != "" {
				w, err := provider.ParseWindow(window)
				if err != nil {
					return err
				}
				if w != provider.WindowCurrent {
					req = req.AsOf(time.Now().UTC().Add(-w.Span()))
					req.Window = w
				}
			}

			start := time.Now()
			out := p.Fetch(cmd.Context(), req)
			rep := probeReport{
				Provider:  name,
				Kind:      k,
				Status:    out.Status.String(),
				Quotes:    out.Quotes,
				ElapsedMs: time.Since(start).Milliseconds(),
			}
			if err := out.Error(); err != nil {
				rep.Error = err.Error()
			}
			a.Log.Debug("probe done", zap.String("provider", name), zap.String("status", rep.Status))
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "fiat or crypto (guessed from chains when empty)")
	cmd.Flags().StringVar(&symbols, "symbols", "", "comma-separated symbols")
	cmd.Flags().StringVar(&window, "window", "", "day or week for a historical probe")
	return cmd
}

// newDumpCmd prints a raw upstream body fetched with the configured retry
// policy.
func newDumpCmd(f *rootFlags) *cobra.Command {
	var headers []string
	cmd := &cobra.Command{
		Use:   "dump URL",
		Short: "Print a raw upstream response body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := f.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			h, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			resp, err := a.HTTP.Fetch(cmd.Context(), httpx.Request{URL: args[0], Header: h})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(resp.Body)
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `extra request header, "Name: value"`)
	return cmd
}

func parseHeaders(raw []string) (http.Header, error) {
	h := http.Header{}
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("bad header %q, want \"Name: value\"", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func kindOf(cfg config.Config, name string) provider.Kind {
	if slices.Contains(cfg.Chains.Crypto, name) || slices.Contains(cfg.Chains.CryptoHistory, name) {
		return provider.KindCrypto
	}
	return provider.KindFiat
}

type resultOutput struct {
	aggregator.Result
	Rows []aggregator.Row `json:"rows"`
}

func printResult(w io.Writer, res aggregator.Result) error {
	return printJSON(w, resultOutput{Result: res, Rows: res.Rows()})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
