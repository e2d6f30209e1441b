package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-recall-search/cache"
	"github.com/goliatone/go-recall-search/cursor"
	"github.com/goliatone/go-recall-search/search"
	"github.com/goliatone/go-recall-search/snapshot"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RECALL_"

// Supported backends.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	// CacheMemory keeps pages inside one process. Epoch bumps and
	// invalidations from another process never reach it, so it suits
	// development and single instance deployments only.
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Duration is a time.Duration read from strings such as "60s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Cursor   CursorConfig   `yaml:"cursor" json:"cursor"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

type HTTPConfig struct {
	Addr            string   `yaml:"addr" json:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string   `yaml:"driver" json:"driver"`
	DSN             string   `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type CacheConfig struct {
	Backend   string      `yaml:"backend" json:"backend"`
	Namespace string      `yaml:"namespace" json:"namespace"`
	TTL       Duration    `yaml:"ttl" json:"ttl"`
	Capacity  int         `yaml:"capacity" json:"capacity"`
	NumShards int         `yaml:"num_shards" json:"num_shards"`
	Redis     RedisConfig `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

type CursorConfig struct {
	// Secret signs new cursors. PreviousSecrets still verify cursors issued
	// before a rotation.
	Secret          string   `yaml:"secret" json:"secret"`
	PreviousSecrets []string `yaml:"previous_secrets" json:"previous_secrets"`
	TTL             Duration `yaml:"ttl" json:"ttl"`
}

type SearchConfig struct {
	QueryTimeout         Duration `yaml:"query_timeout" json:"query_timeout"`
	MaxConcurrentQueries int      `yaml:"max_concurrent_queries" json:"max_concurrent_queries"`
	AllowBrowse          bool     `yaml:"allow_browse" json:"allow_browse"`
	// SnapshotGranularity rounds first page snapshots down so repeated
	// searches share cache entries and ETags. It may not exceed cache.ttl.
	SnapshotGranularity Duration `yaml:"snapshot_granularity" json:"snapshot_granularity"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when nothing overrides it. It has
// no cursor secret and so does not validate on its own.
func Default() Config {
	c := cache.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(5 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			DSN:             "file:recalls.db?cache=shared",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
		},
		Cache: CacheConfig{
			Backend:   CacheMemory,
			Namespace: c.Namespace,
			TTL:       Duration(c.TTL),
			Capacity:  c.Capacity,
			NumShards: c.NumShards,
		},
		Cursor: CursorConfig{
			TTL: Duration(cursor.DefaultTTL),
		},
		Search: SearchConfig{
			QueryTimeout:         Duration(search.DefaultQueryTimeout),
			MaxConcurrentQueries: 32,
			SnapshotGranularity:  Duration(snapshot.DefaultGranularity),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies RECALL_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = Duration(d)
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_DSN", &cfg.Database.DSN)
	num("DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("CACHE_NAMESPACE", &cfg.Cache.Namespace)
	dur("CACHE_TTL", &cfg.Cache.TTL)
	str("REDIS_ADDR", &cfg.Cache.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Cache.Redis.Password)
	num("REDIS_DB", &cfg.Cache.Redis.DB)
	str("CURSOR_SECRET", &cfg.Cursor.Secret)
	dur("CURSOR_TTL", &cfg.Cursor.TTL)
	dur("SEARCH_QUERY_TIMEOUT", &cfg.Search.QueryTimeout)
	num("SEARCH_MAX_CONCURRENT_QUERIES", &cfg.Search.MaxConcurrentQueries)
	flag("SEARCH_ALLOW_BROWSE", &cfg.Search.AllowBrowse)
	dur("SEARCH_SNAPSHOT_GRANULARITY", &cfg.Search.SnapshotGranularity)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup(EnvPrefix + "CURSOR_PREVIOUS_SECRETS"); ok {
		cfg.Cursor.PreviousSecrets = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Cursor.PreviousSecrets = append(cfg.Cursor.PreviousSecrets, s)
			}
		}
	}

	return errors.Join(errs...)
}

// Validate checks every section, then the rules spanning sections.
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.HTTP),
		validation.Field(&c.Database),
		validation.Field(&c.Cache),
		validation.Field(&c.Cursor),
		validation.Field(&c.Search),
		validation.Field(&c.Log),
	); err != nil {
		return err
	}
	if c.Search.SnapshotGranularity > c.Cache.TTL {
		return validation.Errors{
			"search": validation.Errors{
				"snapshot_granularity": fmt.Errorf("must not exceed cache.ttl (%s)", c.Cache.TTL.Std()),
			},
		}
	}
	return nil
}

func (c HTTPConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.ReadTimeout, positive),
		validation.Field(&c.WriteTimeout, positive),
		validation.Field(&c.ShutdownTimeout, positive),
	)
}

func (c DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
		validation.Field(&c.MaxIdleConns, validation.Min(0)),
	)
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(CacheMemory, CacheRedis, CacheNone)),
		validation.Field(&c.Namespace, validation.Required, validation.Match(namespacePattern)),
		validation.Field(&c.TTL, positive),
		validation.Field(&c.Capacity, validation.When(c.Backend == CacheMemory, validation.Required, validation.Min(1))),
		validation.Field(&c.NumShards, validation.When(c.Backend == CacheMemory, validation.Required, validation.Min(1))),
		validation.Field(&c.Redis, validation.When(c.Backend == CacheRedis, validation.By(func(any) error {
			return validation.Validate(c.Redis.Addr, validation.Required.Error("address is required for the redis backend"))
		}))),
	)
}

func (c CursorConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Secret,
			validation.Required.Error("is required; set RECALL_CURSOR_SECRET"),
			validation.Length(cursor.MinKeyLength, 0),
		),
		validation.Field(&c.PreviousSecrets, validation.Each(validation.Length(cursor.MinKeyLength, 0))),
		validation.Field(&c.TTL, positive),
	)
}

func (c SearchConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.QueryTimeout, positive),
		validation.Field(&c.MaxConcurrentQueries, validation.Min(0)),
		validation.Field(&c.SnapshotGranularity, positive),
	)
}

func (c LogConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.In("json", "text")),
	)
}

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

var positive = validation.By(func(v any) error {
	d, ok := v.(Duration)
	if ok && d <= 0 {
		return errors.New("must be a positive duration")
	}
	return nil
})

// Keyring builds the cursor keyring from the configured secrets.
func (c CursorConfig) Keyring() (*cursor.Keyring, error) {
	previous := make([][]byte, 0, len(c.PreviousSecrets))
	for _, s := range c.PreviousSecrets {
		previous = append(previous, []byte(s))
	}
	return cursor.NewKeyring([]byte(c.Secret), previous...)
}

// MicroCache converts the section into the cache package configuration.
func (c CacheConfig) MicroCache() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Namespace = c.Namespace
	cfg.TTL = c.TTL.Std()
	if c.Capacity > 0 {
		cfg.Capacity = c.Capacity
	}
	if c.NumShards > 0 {
		cfg.NumShards = c.NumShards
	}
	return cfg
}
