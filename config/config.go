// Package config loads tagcache deployment settings from YAML and opens the
// configured store gateway.
//
//	backend: mongo
//	dsn: mongodb://localhost:27017
//	dbname: app
//	collection: cache
//	namespace: pages
//	ttl: 10m
//	driver_options:
//	  authSource: admin
//	sweep:
//	  interval: 1m
//	  grace: 30s
//	metrics_addr: ":9102"
package config

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/tagcache"
	"github.com/unkn0wn-root/tagcache/store"
	"github.com/unkn0wn-root/tagcache/store/bigcache"
	"github.com/unkn0wn-root/tagcache/store/mongo"
	"github.com/unkn0wn-root/tagcache/store/near"
	"github.com/unkn0wn-root/tagcache/store/redis"
	"github.com/unkn0wn-root/tagcache/store/sqlite"
)

const (
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendBigcache = "bigcache"
)

type Config struct {
	Backend string `yaml:"backend"`

	DSN           string            `yaml:"dsn"`
	DBName        string            `yaml:"dbname"`
	Collection    string            `yaml:"collection"`
	DriverOptions map[string]string `yaml:"driver_options"`
	Timeout       time.Duration     `yaml:"timeout"`

	Namespace string        `yaml:"namespace"`
	TTL       time.Duration `yaml:"ttl"`
	FailSoft  bool          `yaml:"fail_soft"`

	Redis  Redis  `yaml:"redis"`
	SQLite SQLite `yaml:"sqlite"`
	Near   Near   `yaml:"near"`
	Sweep  Sweep  `yaml:"sweep"`

	MetricsAddr string `yaml:"metrics_addr"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

// Near puts a process-local ristretto cache in front of the backend.
type Near struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	MaxCost int64         `yaml:"max_cost"`
}

type Sweep struct {
	Interval time.Duration `yaml:"interval"`
	Grace    time.Duration `yaml:"grace"`
	// Namespace limits the sweep; empty sweeps every namespace.
	Namespace string `yaml:"namespace"`
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, store.ConfigError("config", err.Error())
	}
	return Parse(b)
}

// Parse decodes and validates YAML. Unknown keys are rejected.
func Parse(b []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, store.ConfigError("config", err.Error())
	}
	if c.Backend == "" {
		c.Backend = BackendMongo
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports the first missing or invalid setting.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMongo:
		switch {
		case c.DSN == "":
			return store.ConfigError("config", "mongo: dsn is required")
		case c.DBName == "":
			return store.ConfigError("config", "mongo: dbname is required")
		case c.Collection == "":
			return store.ConfigError("config", "mongo: collection is required")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return store.ConfigError("config", "redis: addr is required")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return store.ConfigError("config", "sqlite: path is required")
		}
	case BackendBigcache:
	default:
		return store.ConfigError("config", "unknown backend "+c.Backend)
	}
	if c.Sweep.Interval < 0 || c.Sweep.Grace < 0 {
		return store.ConfigError("config", "sweep: interval and grace must not be negative")
	}
	if c.Near.Enabled && (c.Near.MaxCost < 0 || c.Near.TTL < 0) {
		return store.ConfigError("config", "near: max_cost and ttl must not be negative")
	}
	return nil
}

// OpenGateway opens the configured backend, wrapped in a near cache when
// enabled. The caller owns the returned gateway.
func (c Config) OpenGateway(ctx context.Context) (store.Gateway, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var (
		gw  store.Gateway
		err error
	)
	switch c.Backend {
	case BackendMongo:
		gw, err = mongo.Open(ctx, mongo.Config{
			DSN:           c.DSN,
			Database:      c.DBName,
			Collection:    c.Collection,
			Options:       c.DriverOptions,
			Timeout:       c.Timeout,
			EnsureIndexes: true,
		})
	case BackendRedis:
		gw, err = redis.New(redis.Config{
			Client: goredis.NewClient(&goredis.Options{
				Addr:     c.Redis.Addr,
				Password: c.Redis.Password,
				DB:       c.Redis.DB,
			}),
			CloseClient: true,
			Prefix:      c.Redis.Prefix,
		})
	case BackendSQLite:
		gw, err = sqlite.Open(sqlite.Config{Path: c.SQLite.Path})
	case BackendBigcache:
		gw, err = bigcache.New(ctx, bigcache.Config{})
	}
	if err != nil {
		return nil, err
	}
	if !c.Near.Enabled {
		return gw, nil
	}

	maxCost := c.Near.MaxCost
	if maxCost == 0 {
		maxCost = 64 << 20
	}
	ttl := c.Near.TTL
	if ttl == 0 {
		ttl = 5 * time.Second
	}
	wrapped, err := near.New(gw, near.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
		TTL:         ttl,
	})
	if err != nil {
		_ = gw.Close(ctx)
		return nil, err
	}
	return wrapped, nil
}

// Options maps the cache settings of c onto tagcache.Options for gw. The
// caller fills Codec, Logger, Hooks and Metrics.
func Options[V any](c Config, gw store.Gateway) tagcache.Options[V] {
	return tagcache.Options[V]{
		Namespace: c.Namespace,
		TTL:       c.TTL,
		FailSoft:  c.FailSoft,
		Gateway:   gw,
	}
}
