// Package breaker stops calling a provider that keeps failing and lets the
// fallback chain move on without paying for its retries.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"quotebot/internal/provider"
)

type Settings struct {
	// Failures is the number of consecutive failures that opens the circuit.
	Failures uint32
	// OpenTimeout is how long the circuit stays open before a probe.
	OpenTimeout time.Duration
	// OnStateChange is called after every transition.
	OnStateChange func(name, from, to string)
}

// Provider wraps a provider with a circuit breaker. Transport failures and
// upstream rate limits count against the circuit; malformed bodies,
// unsupported requests and local throttling do not.
type Provider struct {
	P  provider.Provider
	cb *gobreaker.CircuitBreaker
}

func New(p provider.Provider, s Settings, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if s.Failures == 0 {
		s.Failures = 3
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 60 * time.Second
	}
	st := gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if s.OnStateChange != nil {
				s.OnStateChange(name, from.String(), to.String())
			}
		},
	}
	return &Provider{P: p, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *Provider) Name() string { return b.P.Name() }

// State reports the current circuit state (closed, half-open, open).
func (b *Provider) State() string { return b.cb.State().String() }

func (b *Provider) Fetch(ctx context.Context, req provider.Request) provider.Outcome {
	var out provider.Outcome
	_, err := b.cb.Execute(func() (interface{}, error) {
		out = b.P.Fetch(ctx, req)
		if countsAsFailure(ctx, out) {
			return nil, out.Error()
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return provider.Unavailable(b.P.Name(), fmt.Errorf("%w: circuit %v", provider.ErrTransport, err))
	}
	return out
}

func countsAsFailure(ctx context.Context, o provider.Outcome) bool {
	if ctx.Err() != nil {
		return false
	}
	switch o.Status {
	case provider.StatusRateLimited:
		return !errors.Is(o.Err, provider.ErrThrottled)
	case provider.StatusUnavailable:
		return !errors.Is(o.Err, provider.ErrUnsupported)
	}
	return false
}
