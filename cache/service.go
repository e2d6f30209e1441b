package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goliatone/go-recall-search/internal/cacheinfra"
)

// ErrMiss is returned by a Store when a key is absent or expired.
var ErrMiss = cacheinfra.ErrMiss

// Store is the key-value backend behind MicroCache.
type Store interface {
	// Get returns ErrMiss when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	// Incr atomically increments a counter and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Counter reads a counter, zero when it does not exist.
	Counter(ctx context.Context, key string) (int64, error)
}

// Observer receives cache outcome events, typically to feed metrics.
type Observer interface {
	CacheHit()
	CacheMiss()
	CacheError(op string)
}

type nopObserver struct{}

func (nopObserver) CacheHit()         {}
func (nopObserver) CacheMiss()        {}
func (nopObserver) CacheError(string) {}

// Option configures a MicroCache.
type Option func(*MicroCache)

// WithLogger sets the logger store failures are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(c *MicroCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver sets the observer notified of hits, misses and errors.
func WithObserver(o Observer) Option {
	return func(c *MicroCache) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithKeySerializer replaces the default page key serializer.
func WithKeySerializer(s KeySerializer) Option {
	return func(c *MicroCache) {
		if s != nil {
			c.serializer = s
		}
	}
}

// MicroCache is a short TTL page cache. Keys are namespaced by an epoch
// counter so bumping the epoch orphans every existing entry at once.
//
// Store failures never reach the caller: they are logged, counted and
// treated as misses.
type MicroCache struct {
	store      Store
	namespace  string
	ttl        time.Duration
	serializer KeySerializer
	logger     *slog.Logger
	observer   Observer
}

// NewMicroCache builds a cache over store using the namespace and TTL of cfg.
func NewMicroCache(store Store, cfg Config, opts ...Option) *MicroCache {
	if store == nil {
		store = NopStore{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	c := &MicroCache{
		store:      store,
		namespace:  cfg.Namespace,
		ttl:        cfg.TTL,
		serializer: NewDefaultKeySerializer(),
		logger:     slog.Default(),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL is the lifetime given to entries stored without an explicit TTL.
func (c *MicroCache) TTL() time.Duration {
	return c.ttl
}

// Namespace is the prefix shared by every key of this cache.
func (c *MicroCache) Namespace() string {
	return c.namespace
}

// PageKey resolves the current epoch and builds the key for parts. It
// reports false when the epoch cannot be read, in which case the request
// must bypass the cache entirely.
func (c *MicroCache) PageKey(ctx context.Context, parts PageKeyParts) (string, bool) {
	epoch, ok := c.epoch(ctx)
	if !ok {
		return "", false
	}
	return c.serializer.SerializeKey(c.namespace, epoch, parts), true
}

// FilterPrefix returns the prefix covering every cached page of a filter in
// the current epoch.
func (c *MicroCache) FilterPrefix(ctx context.Context, fingerprint string) (string, bool) {
	epoch, ok := c.epoch(ctx)
	if !ok {
		return "", false
	}
	return c.serializer.SerializePrefix(c.namespace, epoch, fingerprint), true
}

// Get returns the cached value for key. Any failure is reported as a miss.
func (c *MicroCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		c.observer.CacheHit()
		return value, true
	case errors.Is(err, ErrMiss):
		c.observer.CacheMiss()
	default:
		c.fail(ctx, "get", key, err)
		c.observer.CacheMiss()
	}
	return nil, false
}

// Set stores value under key. A non-positive ttl uses the cache TTL.
func (c *MicroCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		c.fail(ctx, "set", key, err)
	}
}

// Invalidate deletes every entry under prefix and reports how many went.
// Unlike reads, failures are returned so callers driving invalidation can
// surface them.
func (c *MicroCache) Invalidate(ctx context.Context, prefix string) (int, error) {
	n, err := c.store.DeleteByPrefix(ctx, prefix)
	if err != nil {
		c.fail(ctx, "invalidate", prefix, err)
		return n, err
	}
	c.logger.DebugContext(ctx, "cache prefix invalidated", "prefix", prefix, "deleted", n)
	return n, nil
}

// BumpEpoch advances the epoch, making every previously written key
// unreachable. It returns the new epoch.
func (c *MicroCache) BumpEpoch(ctx context.Context) (int64, error) {
	epoch, err := c.store.Incr(ctx, c.epochKey())
	if err != nil {
		c.fail(ctx, "bump_epoch", c.epochKey(), err)
		return 0, err
	}
	c.logger.InfoContext(ctx, "cache epoch bumped", "namespace", c.namespace, "epoch", epoch)
	return epoch, nil
}

func (c *MicroCache) epoch(ctx context.Context) (int64, bool) {
	epoch, err := c.store.Counter(ctx, c.epochKey())
	if err != nil {
		c.fail(ctx, "epoch", c.epochKey(), err)
		return 0, false
	}
	return epoch, true
}

func (c *MicroCache) epochKey() string {
	return c.namespace + KeySeparator + "epoch"
}

func (c *MicroCache) fail(ctx context.Context, op, key string, err error) {
	c.observer.CacheError(op)
	c.logger.WarnContext(ctx, "cache store failure", "op", op, "key", key, "error", err)
}

// NopStore is a Store that keeps nothing. Every read misses.
type NopStore struct{}

func (NopStore) Get(context.Context, string) ([]byte, error)              { return nil, ErrMiss }
func (NopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NopStore) Delete(context.Context, string) error                     { return nil }
func (NopStore) DeleteByPrefix(context.Context, string) (int, error)      { return 0, nil }
func (NopStore) Incr(context.Context, string) (int64, error)              { return 0, nil }
func (NopStore) Counter(context.Context, string) (int64, error)           { return 0, nil }
