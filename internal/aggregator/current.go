package aggregator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quotebot/internal/cache"
	"quotebot/internal/provider"
)

// GetCurrentRates returns the latest quotes for symbols of kind. An empty
// symbol list means the configured defaults. A fresh cache entry is returned
// without network. Otherwise the chain runs; on success the cache is
// replaced, on failure a stale entry is returned with Stale set. With no
// entry at all the error matches provider.ErrNoCacheAvailable and
// provider.ErrAllProvidersExhausted.
func (a *Aggregator) GetCurrentRates(ctx context.Context, kind provider.Kind, symbols []string) (Result, error) {
	start := time.Now()
	log := a.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("op", OpRates),
		zap.String("kind", string(kind)),
	)
	req, err := a.request(kind, symbols, "")
	if err != nil {
		return Result{Kind: kind, State: StateFailed}, err
	}
	res, err := a.current(ctx, req, log)
	a.record(log, OpRates, res, err, start)
	return res, err
}

func (a *Aggregator) current(ctx context.Context, req provider.Request, log *zap.Logger) (Result, error) {
	key := cache.NewKey(req.Kind, provider.WindowCurrent, req.Unit, req.Symbols)
	base := Result{Kind: req.Kind, Window: provider.WindowCurrent, Unit: req.Unit}

	if e, fresh, ok := a.cache.Get(ctx, key); ok && fresh {
		return fromEntry(base, e, StateFresh), nil
	}

	return a.coalesce(ctx, key.String(), base, log, func(ctx context.Context) (Result, error) {
		return a.refreshCurrent(ctx, req, key, base, log)
	})
}

func (a *Aggregator) refreshCurrent(ctx context.Context, req provider.Request, key cache.Key, base Result, log *zap.Logger) (Result, error) {
	log.Debug("refreshing", zap.String("key", key.String()), zap.String("state", StateRefreshing.String()))

	o := a.chains[req.Kind].Resolve(ctx, req)
	if o.OK() {
		res := base
		res.Quotes = o.Quotes
		res.Provider = o.Provider
		res.State = StateUpdated
		res.StoredAt = a.now().UTC()
		e, err := a.cache.Put(ctx, key, cache.Payload{Quotes: o.Quotes})
		if err != nil {
			log.Warn("cache write failed", zap.Error(err))
		} else {
			res.StoredAt = e.StoredAt
		}
		return res, nil
	}

	return a.fallback(ctx, key, base, o.Err)
}

// fallback serves whatever the cache holds for key after a failed refresh.
func (a *Aggregator) fallback(ctx context.Context, key cache.Key, base Result, cause error) (Result, error) {
	e, fresh, ok := a.cache.Get(ctx, key)
	if !ok {
		res := base
		res.State = StateFailed
		return res, failed(cause)
	}
	if fresh {
		// another writer stored a result while the chain was failing
		return fromEntry(base, e, StateFresh), nil
	}
	res := fromEntry(base, e, StateDegraded)
	res.Stale = true
	return res, nil
}

func fromEntry(base Result, e cache.Entry, state State) Result {
	res := base
	res.Quotes = e.Payload.Quotes
	res.Changes = e.Payload.Changes
	res.StoredAt = e.StoredAt
	res.State = state
	return res
}
