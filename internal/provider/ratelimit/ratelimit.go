package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"quotebot/internal/provider"
)

// DefaultMaxWait is how long a call may queue for a token before the
// provider answers RateLimited instead.
const DefaultMaxWait = time.Second

// Provider wraps a provider and gates calls with a token bucket.
// A call that would wait longer than MaxWait for its token is refused at
// once with a RateLimited outcome carrying the wait, so a fallback chain can
// move on. A canceled context during a short wait yields Unavailable.
type Provider struct {
	P       provider.Provider
	L       *rate.Limiter
	MaxWait time.Duration
}

func (l *Provider) Name() string { return l.P.Name() }

func (l *Provider) Fetch(ctx context.Context, req provider.Request) provider.Outcome {
	if l.L == nil {
		return l.P.Fetch(ctx, req)
	}
	r := l.L.Reserve()
	if !r.OK() {
		return provider.RateLimited(l.P.Name(), 0, false, fmt.Errorf("%w: %w", provider.ErrRateLimited, provider.ErrThrottled))
	}
	wait := r.Delay()
	if wait > l.maxWait() {
		r.Cancel()
		return provider.RateLimited(l.P.Name(), wait, true,
			fmt.Errorf("%w: %w: next slot in %s", provider.ErrRateLimited, provider.ErrThrottled, wait.Round(time.Millisecond)))
	}
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			r.Cancel()
			return provider.Unavailable(l.P.Name(), fmt.Errorf("rate limiter: %w", ctx.Err()))
		}
	}
	return l.P.Fetch(ctx, req)
}

func (l *Provider) maxWait() time.Duration {
	if l.MaxWait <= 0 {
		return DefaultMaxWait
	}
	return l.MaxWait
}

// NewTokenBucket allows perMinute calls per minute with the given burst.
func NewTokenBucket(perMinute, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

// NewMinInterval allows one call per interval.
func NewMinInterval(interval time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Wrap prefers a token bucket when perMinute is set, otherwise a minimum
// interval, otherwise returns p unchanged. maxWait <= 0 means DefaultMaxWait.
func Wrap(p provider.Provider, perMinute int, minInterval time.Duration, burst int, maxWait time.Duration) provider.Provider {
	switch {
	case perMinute > 0:
		return &Provider{P: p, L: NewTokenBucket(perMinute, burst), MaxWait: maxWait}
	case minInterval > 0:
		return &Provider{P: p, L: NewMinInterval(minInterval), MaxWait: maxWait}
	}
	return p
}
