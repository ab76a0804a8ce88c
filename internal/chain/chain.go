// Package chain tries an ordered list of providers until one resolves at
// least one symbol.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"quotebot/internal/metrics"
	"quotebot/internal/provider"
)

// Attempt records one link's result inside an exhausted chain.
type Attempt struct {
	Provider string
	Status   provider.Status
	Err      error
}

// ExhaustedError lists every failed attempt. It matches
// provider.ErrAllProvidersExhausted and, through Unwrap, each attempt's cause.
type ExhaustedError struct {
	Chain    string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s: %s: no providers configured", e.Chain, provider.ErrAllProvidersExhausted)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s=%s", a.Provider, a.Status)
	}
	return fmt.Sprintf("%s: %s [%s]", e.Chain, provider.ErrAllProvidersExhausted, strings.Join(parts, ", "))
}

func (e *ExhaustedError) Is(target error) bool { return target == provider.ErrAllProvidersExhausted }

func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			out = append(out, a.Err)
		}
	}
	return out
}

// Chain holds providers in priority order. It never reorders them and never
// calls two of them at once.
type Chain struct {
	name    string
	links   []provider.Provider
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(name string, links []provider.Provider, log *zap.Logger, m *metrics.Metrics) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{
		name:    name,
		links:   append([]provider.Provider(nil), links...),
		log:     log.With(zap.String("chain", name)),
		metrics: m,
	}
}

func (c *Chain) Name() string { return c.name }

// Providers returns the link names in order.
func (c *Chain) Providers() []string {
	out := make([]string, len(c.links))
	for i, p := range c.links {
		out[i] = p.Name()
	}
	return out
}

// Fetch lets a chain stand in wherever a provider is expected.
func (c *Chain) Fetch(ctx context.Context, req provider.Request) provider.Outcome {
	return c.Resolve(ctx, req)
}

// Resolve walks the links in order. The first success with at least one
// symbol is returned as is; later links are not consulted to fill gaps.
// Any other outcome moves on immediately. When every link failed the result
// is Unavailable with an *ExhaustedError cause.
func (c *Chain) Resolve(ctx context.Context, req provider.Request) provider.Outcome {
	start := time.Now()
	defer func() { c.metrics.Resolve(c.name, time.Since(start)) }()

	attempts := make([]Attempt, 0, len(c.links))
	for _, p := range c.links {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Provider: p.Name(), Status: provider.StatusUnavailable, Err: err})
			break
		}
		o := p.Fetch(ctx, req)
		if o.Status == provider.StatusSuccess && o.Quotes.Len() == 0 {
			o = provider.Malformed(p.Name(), errors.New("no symbols resolved"))
		}
		c.metrics.Outcome(c.name, p.Name(), o.Status.String())

		if o.OK() {
			if o.Provider == "" {
				o.Provider = p.Name()
			}
			c.log.Debug("resolved",
				zap.String("provider", p.Name()),
				zap.Int("symbols", o.Quotes.Len()),
				zap.Int("requested", len(req.Symbols)))
			return o
		}

		fields := []zap.Field{
			zap.String("provider", p.Name()),
			zap.String("status", o.Status.String()),
			zap.Error(o.Err),
		}
		if o.HasRetryAfter {
			fields = append(fields, zap.Duration("retry_after", o.RetryAfter))
		}
		c.log.Info("provider failed, trying next", fields...)
		attempts = append(attempts, Attempt{Provider: p.Name(), Status: o.Status, Err: o.Err})
	}

	ex := &ExhaustedError{Chain: c.name, Attempts: attempts}
	c.log.Warn("chain exhausted", zap.Error(ex))
	return provider.Unavailable(c.name, ex)
}
