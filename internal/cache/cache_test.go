package cache_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"quotebot/internal/cache"
	"quotebot/internal/metrics"
	"quotebot/internal/provider"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func payload(t *testing.T, values map[string]string, order ...string) cache.Payload {
	t.Helper()
	found := map[string]provider.Quote{}
	for sym, v := range values {
		q, err := provider.NewQuote(sym, decimal.RequireFromString(v), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), "RUB")
		require.NoError(t, err)
		found[sym] = q
	}
	return cache.Payload{Quotes: provider.Collect(order, found)}
}

func fiatKey() cache.Key {
	return cache.NewKey(provider.KindFiat, provider.WindowCurrent, "RUB", []string{"USD", "EUR", "CNY"})
}

func TestFreshnessBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		age   time.Duration
		fresh bool
	}{
		{"just stored", 0, true},
		{"299s", 299 * time.Second, true},
		{"exactly ttl", 300 * time.Second, true},
		{"301s", 301 * time.Second, false},
		{"a day", 24 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			c := cache.New(cache.NewMemoryStore(0), cache.WithClock(clk.Now))
			_, err := c.Put(t.Context(), fiatKey(), payload(t, map[string]string{"USD": "92.5"}, "USD"))
			require.NoError(t, err)

			// Act
			clk.Advance(tt.age)
			e, fresh, ok := c.Get(t.Context(), fiatKey())

			// Assert
			require.True(t, ok)
			require.Equal(t, tt.fresh, fresh)
			require.Equal(t, 1, e.Payload.Quotes.Len())
		})
	}
}

func TestGetMiss(t *testing.T) {
	t.Parallel()

	// Arrange
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := cache.New(cache.NewMemoryStore(0), cache.WithMetrics(m))

	// Act
	_, fresh, ok := c.Get(t.Context(), fiatKey())

	// Assert
	require.False(t, ok)
	require.False(t, fresh)
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("miss")))
}

func TestPutReplacesWholeEntry(t *testing.T) {
	t.Parallel()

	// Arrange
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := cache.New(cache.NewMemoryStore(0), cache.WithClock(clk.Now))
	_, err := c.Put(t.Context(), fiatKey(), payload(t, map[string]string{"USD": "92.5", "EUR": "100.1"}, "USD", "EUR"))
	require.NoError(t, err)
	clk.Advance(time.Minute)

	// Act
	stored, err := c.Put(t.Context(), fiatKey(), payload(t, map[string]string{"CNY": "12.7"}, "CNY"))
	require.NoError(t, err)
	e, _, ok := c.Get(t.Context(), fiatKey())

	// Assert
	require.True(t, ok)
	require.Equal(t, []string{"CNY"}, e.Payload.Quotes.Symbols())
	require.True(t, e.StoredAt.Equal(clk.Now()))
	require.True(t, stored.StoredAt.Equal(e.StoredAt))
}

func TestKeysAreIsolated(t *testing.T) {
	t.Parallel()

	// Arrange
	c := cache.New(cache.NewMemoryStore(0))
	crypto := cache.NewKey(provider.KindCrypto, provider.WindowCurrent, "USD", []string{"BTC"})
	_, err := c.Put(t.Context(), crypto, payload(t, map[string]string{"BTC": "65000"}, "BTC"))
	require.NoError(t, err)

	// Act
	_, _, fiatOK := c.Get(t.Context(), fiatKey())
	_, _, cryptoOK := c.Get(t.Context(), crypto)

	// Assert
	require.False(t, fiatOK)
	require.True(t, cryptoOK)
}

func TestKeyString(t *testing.T) {
	t.Parallel()

	a := cache.NewKey(provider.KindFiat, provider.WindowDay, "RUB", []string{"USD", "EUR"})
	b := cache.NewKey(provider.KindFiat, provider.WindowDay, "RUB", []string{"USD", "EUR"})
	reordered := cache.NewKey(provider.KindFiat, provider.WindowDay, "RUB", []string{"EUR", "USD"})

	require.Equal(t, a.String(), b.String())
	require.NotEqual(t, a.String(), reordered.String())
	require.Regexp(t, `^fiat:day:RUB:[0-9a-f]{16}$`, a.String())
}

func TestConcurrentPutsLeaveOneCompleteEntry(t *testing.T) {
	t.Parallel()

	// Arrange
	dir := t.TempDir()
	store, err := cache.NewFileStore(dir)
	require.NoError(t, err)
	c := cache.New(store)

	payloads := make([]cache.Payload, 20)
	for i := range payloads {
		payloads[i] = payload(t, map[string]string{"USD": fmt.Sprintf("%d", i+1)}, "USD")
	}

	// Act
	var wg sync.WaitGroup
	errs := make(chan error, len(payloads))
	for _, p := range payloads {
		wg.Add(1)
		go func(p cache.Payload) {
			defer wg.Done()
			_, err := c.Put(context.Background(), fiatKey(), p)
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)

	// Assert
	for err := range errs {
		require.NoError(t, err)
	}
	e, _, ok := c.Get(t.Context(), fiatKey())
	require.True(t, ok)
	require.Equal(t, 1, e.Payload.Quotes.Len())
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	// Arrange
	dir := t.TempDir()
	store, err := cache.NewFileStore(dir)
	require.NoError(t, err)
	p := payload(t, map[string]string{"USD": "92.5", "EUR": "100.125"}, "USD", "EUR")
	p.Changes = []provider.Change{{Symbol: "USD", PercentChange: decimal.RequireFromString("1.5"), Basis: "24h"}}
	key := fiatKey().String()
	storedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Act
	require.NoError(t, store.Save(t.Context(), cache.Entry{Key: key, StoredAt: storedAt, Payload: p}))
	e, ok, err := store.Load(t.Context(), key)

	// Assert
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, e.StoredAt.Equal(storedAt))
	require.Equal(t, []string{"USD", "EUR"}, e.Payload.Quotes.Symbols())
	eur, _ := e.Payload.Quotes.Get("EUR")
	require.True(t, eur.Value.Equal(decimal.RequireFromString("100.125")))
	require.Len(t, e.Payload.Changes, 1)
	require.True(t, e.Payload.Changes[0].PercentChange.Equal(decimal.RequireFromString("1.5")))
}

func TestFileStoreCorruptRecordIsAbsent(t *testing.T) {
	t.Parallel()

	// Arrange
	dir := t.TempDir()
	store, err := cache.NewFileStore(dir)
	require.NoError(t, err)
	key := fiatKey().String()
	require.NoError(t, store.Save(t.Context(), cache.Entry{Key: key, StoredAt: time.Now(), Payload: payload(t, map[string]string{"USD": "1"}, "USD")}))
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, files[0].Name()), []byte("{not json"), 0o644))

	// Act
	_, ok, err := store.Load(t.Context(), key)
	c := cache.New(store)
	_, _, cacheOK := c.Get(t.Context(), fiatKey())

	// Assert
	require.False(t, ok)
	require.ErrorIs(t, err, cache.ErrCorrupt)
	require.False(t, cacheOK)
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	// Arrange
	s := cache.NewMemoryStore(2)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Act
	for i, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(t.Context(), cache.Entry{Key: k, StoredAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	// Assert
	require.Equal(t, 2, s.Len())
	_, ok, _ := s.Load(t.Context(), "a")
	require.False(t, ok)
	_, ok, _ = s.Load(t.Context(), "c")
	require.True(t, ok)
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	key := fiatKey().String()
	entry := cache.Entry{
		Key:      key,
		StoredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:  payload(t, map[string]string{"USD": "92.5"}, "USD"),
	}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	t.Run("save", func(t *testing.T) {
		t.Parallel()

		// Arrange
		db, mock := redismock.NewClientMock()
		mock.ExpectSet("quotebot:"+key, string(raw), time.Hour).SetVal("OK")
		s := cache.NewRedisStore(db, "quotebot:", time.Hour)

		// Act
		err := s.Save(t.Context(), entry)

		// Assert
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("load hit", func(t *testing.T) {
		t.Parallel()

		// Arrange
		db, mock := redismock.NewClientMock()
		mock.ExpectGet("quotebot:" + key).SetVal(string(raw))
		s := cache.NewRedisStore(db, "quotebot:", time.Hour)

		// Act
		e, ok, err := s.Load(t.Context(), key)

		// Assert
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, e.StoredAt.Equal(entry.StoredAt))
		require.Equal(t, []string{"USD"}, e.Payload.Quotes.Symbols())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("load miss", func(t *testing.T) {
		t.Parallel()

		// Arrange
		db, mock := redismock.NewClientMock()
		mock.ExpectGet("quotebot:" + key).RedisNil()
		s := cache.NewRedisStore(db, "quotebot:", time.Hour)

		// Act
		_, ok, err := s.Load(t.Context(), key)

		// Assert
		require.NoError(t, err)
		require.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("backend error reads as miss through cache", func(t *testing.T) {
		t.Parallel()

		// Arrange
		db, mock := redismock.NewClientMock()
		mock.ExpectGet("quotebot:" + key).SetErr(errors.New("connection refused"))
		c := cache.New(cache.NewRedisStore(db, "quotebot:", time.Hour))

		// Act
		_, _, ok := c.Get(t.Context(), fiatKey())

		// Assert
		require.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNewStore(t *testing.T) {
	t.Parallel()

	s, err := cache.NewStore(cache.StoreConfig{})
	require.NoError(t, err)
	require.IsType(t, &cache.MemoryStore{}, s)

	s, err = cache.NewStore(cache.StoreConfig{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &cache.FileStore{}, s)

	_, err = cache.NewStore(cache.StoreConfig{Backend: "redis"})
	require.Error(t, err)

	_, err = cache.NewStore(cache.StoreConfig{Backend: "etcd"})
	require.Error(t, err)
}
