// Package cache keeps the last good result per query with its timestamp.
// Entries past their TTL are reported stale but stay readable, so callers can
// fall back to them when every provider fails.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"quotebot/internal/metrics"
	"quotebot/internal/provider"
)

const DefaultTTL = 300 * time.Second

// ErrCorrupt is returned by stores for a record that exists but cannot be used.
var ErrCorrupt = errors.New("corrupt cache record")

// Key identifies one cached query.
type Key struct {
	Kind    provider.Kind
	Window  provider.Window
	Unit    string
	Symbols []string
}

func NewKey(kind provider.Kind, window provider.Window, unit string, symbols []string) Key {
	return Key{Kind: kind, Window: window, Unit: unit, Symbols: append([]string(nil), symbols...)}
}

// String renders kind:window:unit:hash where hash is xxhash64 of the
// ordered symbol list.
func (k Key) String() string {
	h := xxhash.Sum64String(strings.Join(k.Symbols, ","))
	return fmt.Sprintf("%s:%s:%s:%016x", k.Kind, k.Window, k.Unit, h)
}

// Payload is what the aggregator stores: a quote set and, for analysis
// queries, the derived changes.
type Payload struct {
	Quotes  provider.QuoteSet `json:"quotes"`
	Changes []provider.Change `json:"changes,omitempty"`
}

// Entry is one persisted record.
type Entry struct {
	Key      string    `json:"key"`
	StoredAt time.Time `json:"storedAt"`
	Payload  Payload   `json:"payload"`
}

// Store persists entries. Load reports ok=false for a missing key; a record
// that cannot be decoded is reported with an error wrapping ErrCorrupt.
type Store interface {
	Load(ctx context.Context, key string) (Entry, bool, error)
	Save(ctx context.Context, e Entry) error
	Close() error
}

// Cache adds TTL semantics and per-key serialization on top of a Store.
type Cache struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		log:   zap.NewNop(),
		locks: make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// Fresh reports whether e is within the TTL: now - storedAt <= ttl.
func (c *Cache) Fresh(e Entry) bool { return c.now().Sub(e.StoredAt) <= c.ttl }

// Get returns the entry for key and whether it is fresh. ok is false when
// nothing usable is stored; store failures are logged and treated the same.
func (c *Cache) Get(ctx context.Context, key Key) (e Entry, fresh bool, ok bool) {
	k := key.String()
	unlock := c.lock(k)
	defer unlock()

	e, ok, err := c.store.Load(ctx, k)
	if err != nil {
		c.log.Warn("cache read failed, treating as miss", zap.String("key", k), zap.Error(err))
		ok = false
	}
	if !ok {
		c.metrics.CacheLookup("miss")
		return Entry{}, false, false
	}
	fresh = c.Fresh(e)
	if fresh {
		c.metrics.CacheLookup("fresh")
	} else {
		c.metrics.CacheLookup("stale")
	}
	return e, fresh, true
}

// Put replaces the whole entry for key, stamped with the current time.
func (c *Cache) Put(ctx context.Context, key Key, p Payload) (Entry, error) {
	k := key.String()
	unlock := c.lock(k)
	defer unlock()

	e := Entry{Key: k, StoredAt: c.now().UTC(), Payload: p}
	if err := c.store.Save(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("cache put %s: %w", k, err)
	}
	return e, nil
}

func (c *Cache) Close() error { return c.store.Close() }

// lock serializes access to one key; distinct keys never contend.
func (c *Cache) lock(key string) func() {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &keyLock{}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}
