package aggregator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quotebot/internal/aggregate"
	"quotebot/internal/cache"
	"quotebot/internal/provider"
)

// GetChangeAnalysis returns current quotes plus the percent change against
// the snapshot one window ago. window is provider.WindowDay or WindowWeek.
//
// When the reference snapshot cannot be fetched the current quotes are
// still returned, with ChangeUnavailable set; such a result is not cached.
// When the current quotes cannot be fetched at all, a stale analysis entry
// is served if one exists.
func (a *Aggregator) GetChangeAnalysis(ctx context.Context, kind provider.Kind, symbols []string, window provider.Window) (Result, error) {
	start := time.Now()
	log := a.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("op", OpAnalysis),
		zap.String("kind", string(kind)),
		zap.String("window", string(window)),
	)
	if window != provider.WindowDay && window != provider.WindowWeek {
		return Result{Kind: kind, Window: window, State: StateFailed}, ErrInvalidWindow
	}
	req, err := a.request(kind, symbols, "")
	if err != nil {
		return Result{Kind: kind, Window: window, State: StateFailed}, err
	}
	res, err := a.analysis(ctx, req, window, log)
	a.record(log, OpAnalysis, res, err, start)
	return res, err
}

func (a *Aggregator) analysis(ctx context.Context, req provider.Request, window provider.Window, log *zap.Logger) (Result, error) {
	key := cache.NewKey(req.Kind, window, req.Unit, req.Symbols)
	base := Result{Kind: req.Kind, Window: window, Unit: req.Unit}

	if e, fresh, ok := a.cache.Get(ctx, key); ok && fresh {
		return fromEntry(base, e, StateFresh), nil
	}

	return a.coalesce(ctx, key.String(), base, log, func(ctx context.Context) (Result, error) {
		return a.refreshAnalysis(ctx, req, window, key, base, log)
	})
}

func (a *Aggregator) refreshAnalysis(ctx context.Context, req provider.Request, window provider.Window, key cache.Key, base Result, log *zap.Logger) (Result, error) {
	now, err := a.current(ctx, req, log)
	if err != nil {
		return a.fallback(ctx, key, base, err)
	}
	if now.Stale {
		if e, _, ok := a.cache.Get(ctx, key); ok && len(e.Payload.Changes) > 0 {
			res := fromEntry(base, e, StateDegraded)
			res.Stale = true
			return res, nil
		}
	}

	res := base
	res.Quotes = now.Quotes
	res.StoredAt = now.StoredAt
	res.Provider = now.Provider
	res.Stale = now.Stale
	res.State = now.State

	hist, ok := a.history[req.Kind]
	if !ok {
		log.Info("no history chain configured, change unavailable")
		res.ChangeUnavailable = true
		return res, nil
	}

	refReq := req.AsOf(a.now().UTC().Add(-window.Span()))
	refReq.Window = window
	o := hist.Resolve(ctx, refReq)
	if !o.OK() {
		log.Warn("reference snapshot unavailable", zap.Time("at", refReq.At), zap.Error(o.Err))
		res.ChangeUnavailable = true
		return res, nil
	}

	res.Changes = aggregate.Changes(now.Quotes, o.Quotes, window.Basis())
	if len(res.Changes) == 0 {
		res.ChangeUnavailable = true
		return res, nil
	}
	if now.Stale {
		return res, nil
	}

	e, err := a.cache.Put(ctx, key, cache.Payload{Quotes: now.Quotes, Changes: res.Changes})
	if err != nil {
		log.Warn("cache write failed", zap.Error(err))
	} else {
		res.StoredAt = e.StoredAt
	}
	res.State = StateUpdated
	return res, nil
}
