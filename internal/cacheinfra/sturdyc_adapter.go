package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/viccon/sturdyc"
)

// ErrMiss is returned by stores when a key is absent or expired.
var ErrMiss = errors.New("cacheinfra: key not found")

// Config holds the configuration for the sturdyc store.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL is the upper bound on entry lifetime. Per-entry TTLs passed to Set
	// are capped at this value.
	// Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	// Default: 10 (evict 10% of entries)
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config sized for a single node micro-cache.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL, and EvictionPercentage are passed directly
// to the sturdyc.New() constructor and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// entry carries its own deadline so each Set can pick a TTL shorter than the
// client wide one.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// SturdycStore is an in-process store backed by a sturdyc client.
type SturdycStore struct {
	client *sturdyc.Client[entry]
	maxTTL time.Duration
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]int64
}

// NewSturdycStore validates cfg and builds the store.
func NewSturdycStore(cfg Config) (*SturdycStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SturdycStore{
		client:   client,
		maxTTL:   cfg.TTL,
		now:      time.Now,
		counters: make(map[string]int64),
	}, nil
}

// Get returns the value stored under key, or ErrMiss.
func (s *SturdycStore) Get(ctx context.Context, key string) ([]byte, error) {
	e, ok := s.client.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !s.now().Before(e.expiresAt) {
		s.client.Delete(key)
		return nil, ErrMiss
	}
	return e.value, nil
}

// Set stores value under key for ttl, capped at the configured TTL.
func (s *SturdycStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	s.client.Set(key, entry{value: buf, expiresAt: s.now().Add(ttl)})
	return nil
}

// Delete removes a single entry.
func (s *SturdycStore) Delete(ctx context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix and
// reports how many were removed.
func (s *SturdycStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
			deleted++
		}
	}
	return deleted, nil
}

// Incr atomically increments the counter at key. Counters never expire.
func (s *SturdycStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

// Counter reads the counter at key, zero when it was never incremented.
func (s *SturdycStore) Counter(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}
