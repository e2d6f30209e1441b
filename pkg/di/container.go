package di

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-recall-search/cache"
	"github.com/goliatone/go-recall-search/config"
	"github.com/goliatone/go-recall-search/cursor"
	"github.com/goliatone/go-recall-search/internal/httpapi"
	"github.com/goliatone/go-recall-search/internal/metrics"
	"github.com/goliatone/go-recall-search/keyset"
	"github.com/goliatone/go-recall-search/recall"
	"github.com/goliatone/go-recall-search/search"
	"github.com/goliatone/go-recall-search/snapshot"
)

// Container wires the search service from a configuration. It owns the
// database handle and the cache client it opened and releases them on Close.
type Container struct {
	cfg     config.Config
	logger  *slog.Logger
	db      *bun.DB
	redis   redis.UniversalClient
	store   cache.Store
	micro   *cache.MicroCache
	metrics *metrics.Metrics
	codec   *cursor.Codec
	search  *search.Service
	detail  *search.DetailService
	now     func() time.Time

	closers []func() error
}

// Option customizes a Container.
type Option func(*Container)

// WithDB uses an already opened database instead of dialing the configured
// one. The caller keeps ownership of db.
func WithDB(db *bun.DB) Option {
	return func(c *Container) {
		c.db = db
	}
}

// WithRedisClient uses client for the redis cache backend. The caller keeps
// ownership of client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(c *Container) {
		c.redis = client
	}
}

// WithLogger replaces the logger built from the log section.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces the wall clock used for snapshots and cursor expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Container) {
		c.now = now
	}
}

// NewContainer builds every component described by cfg. cfg is expected to
// have passed config validation.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	c := &Container{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = NewLogger(cfg.Log, os.Stderr)
	}

	if c.db == nil {
		db, err := OpenDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		c.db = db
		c.closers = append(c.closers, db.Close)
	}

	store, err := c.newStore()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.store = store

	keys, err := cfg.Cursor.Keyring()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("cursor keyring: %w", err)
	}

	c.metrics = metrics.New()
	c.micro = cache.NewMicroCache(store, cfg.Cache.MicroCache(),
		cache.WithLogger(c.logger),
		cache.WithObserver(c.metrics),
	)
	codecOpts := []cursor.Option{cursor.WithTTL(cfg.Cursor.TTL.Std())}
	if c.now != nil {
		codecOpts = append(codecOpts, cursor.WithClock(c.now))
	}
	c.codec = cursor.NewCodec(keys, codecOpts...)

	planner := keyset.NewPlanner(c.db,
		keyset.WithBrowse(cfg.Search.AllowBrowse),
		keyset.WithMaxConcurrency(cfg.Search.MaxConcurrentQueries),
	)
	c.search = search.NewService(planner, c.codec,
		search.WithCache(c.micro),
		search.WithQueryTimeout(cfg.Search.QueryTimeout.Std()),
		search.WithSnapshotClock(snapshot.New(c.now, snapshot.WithGranularity(cfg.Search.SnapshotGranularity.Std()))),
		search.WithLogger(c.logger),
		search.WithRecorder(c.metrics),
	)
	c.detail = search.NewDetailService(recall.NewRepository(c.db),
		search.WithDetailLogger(c.logger),
		search.WithDetailRecorder(c.metrics),
	)

	return c, nil
}

func (c *Container) newStore() (cache.Store, error) {
	switch c.cfg.Cache.Backend {
	case config.CacheNone:
		return cache.NopStore{}, nil
	case config.CacheRedis:
		if c.redis == nil {
			client := redis.NewClient(&redis.Options{
				Addr:     c.cfg.Cache.Redis.Addr,
				Password: c.cfg.Cache.Redis.Password,
				DB:       c.cfg.Cache.Redis.DB,
			})
			c.redis = client
			c.closers = append(c.closers, client.Close)
		}
		return cache.NewRedisStore(c.redis), nil
	default:
		store, err := cache.NewMemoryStore(c.cfg.Cache.MicroCache())
		if err != nil {
			return nil, fmt.Errorf("memory cache: %w", err)
		}
		return store, nil
	}
}

// OpenDB opens the configured database with its pool settings applied.
func OpenDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	var db *bun.DB

	switch cfg.Driver {
	case config.DriverPostgres:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	case config.DriverSQLite:
		sqldb, err := sql.Open(config.DriverSQLite, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Std())
	}
	return db, nil
}

// NewLogger builds a slog logger for the log section, writing to w.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.cfg
}

// Logger returns the shared logger.
func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// DB returns the database handle.
func (c *Container) DB() *bun.DB {
	return c.db
}

// MicroCache returns the page cache.
func (c *Container) MicroCache() *cache.MicroCache {
	return c.micro
}

// Metrics returns the metrics registry wrapper.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Codec returns the cursor codec.
func (c *Container) Codec() *cursor.Codec {
	return c.codec
}

// Search returns the paginated search service.
func (c *Container) Search() *search.Service {
	return c.search
}

// Detail returns the single record service.
func (c *Container) Detail() *search.DetailService {
	return c.detail
}

// Router returns the HTTP handler serving the search API.
func (c *Container) Router() http.Handler {
	return httpapi.NewRouter(httpapi.Options{
		Search:  c.search,
		Detail:  c.detail,
		Health:  c.db.PingContext,
		Metrics: c.metrics.Handler(),
		Logger:  c.logger,
	})
}

// Migrate creates the recalls schema if it does not exist.
func (c *Container) Migrate(ctx context.Context) error {
	return recall.CreateSchema(ctx, c.db)
}

// Close releases the resources the container opened, in reverse order.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
