package cache

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-recall-search/internal/cacheinfra"
)

const (
	// DefaultTTL is how long a page stays cached.
	DefaultTTL = 60 * time.Second
	// DefaultNamespace prefixes every key.
	DefaultNamespace = "recall"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Namespace          string
	TTL                time.Duration
	Capacity           int
	NumShards          int
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	cfg := convertFromInternal(cacheinfra.DefaultConfig())
	cfg.Namespace = DefaultNamespace
	cfg.TTL = DefaultTTL
	return cfg
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.Namespace == "" {
		return &cacheinfra.ConfigError{Field: "Namespace", Message: "must not be empty"}
	}
	return c.toInternal().Validate()
}

// NewMemoryStore constructs the in-process sturdyc backed store.
func NewMemoryStore(cfg Config) (Store, error) {
	return cacheinfra.NewSturdycStore(cfg.toInternal())
}

// NewRedisStore constructs a store over a shared Redis deployment.
func NewRedisStore(client redis.UniversalClient) Store {
	return cacheinfra.NewRedisStore(client)
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
