// Package config loads the process configuration from the environment.
//
// Configuration is read once at startup and never changes afterwards.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/dreamware/comboq/internal/combo"
	"github.com/dreamware/comboq/internal/storage"
)

// Store drivers.
const (
	DriverMemory    = "memory"
	DriverCassandra = "cassandra"
)

// Config is the complete runtime configuration.
type Config struct {
	ListenAddr string     `env:"LISTEN_ADDR, default=:8080"`
	LogLevel   slog.Level `env:"LOG_LEVEL, default=info"`

	ShardCount  int      `env:"SHARD_COUNT, default=10"`
	BatchSize   int      `env:"BATCH_SIZE, default=1000"`
	RestWorkers int      `env:"REST_WORKERS, default=10"`
	APIKeys     []string `env:"API_KEYS, required"`
	Categories  []string `env:"CATEGORIES, default=email,discord,valid"`

	StoreDriver       string    `env:"STORE_DRIVER, default=memory"`
	ReplicationFactor int       `env:"REPLICATION_FACTOR, default=1"`
	Cassandra         Cassandra `env:", prefix=CASSANDRA_"`

	EventRate    float64       `env:"EVENT_RATE, default=50"`
	EventBurst   int           `env:"EVENT_BURST, default=100"`
	PingInterval time.Duration `env:"PING_INTERVAL, default=15s"`
	PingFailures int           `env:"PING_FAILURES, default=3"`

	// EventOrigins lists the Origin host patterns allowed on /events. Empty
	// disables the origin check.
	EventOrigins []string `env:"EVENT_ORIGINS"`

	WebhookURL     string `env:"WEBHOOK_URL"`
	TelegramToken  string `env:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`
}

// Cassandra holds the CASSANDRA_* settings.
type Cassandra struct {
	Hosts    []string      `env:"HOSTS"`
	Port     int           `env:"PORT, default=9042"`
	Username string        `env:"USERNAME"`
	Password string        `env:"PASSWORD"`
	CAPath   string        `env:"CA_PATH"`
	Timeout  time.Duration `env:"TIMEOUT, default=10s"`
}

// Load reads the configuration through lookuper and validates it. A nil
// lookuper reads the process environment.
func Load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("load config: %w", envKeyError(err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// keyError is an envconfig error reworded to name the environment key.
type keyError struct {
	key    string
	detail string
	err    error
}

func (e *keyError) Error() string { return e.key + ": " + e.detail }

func (e *keyError) Unwrap() error { return e.err }

// envKeyError rewrites the struct field path envconfig prefixes its errors
// with ("Cassandra: Port: ...") into the environment key (CASSANDRA_PORT).
// Errors that do not start with a known field path are returned unchanged.
func envKeyError(err error) error {
	var (
		typ    = reflect.TypeOf(Config{})
		prefix string
		rest   = err.Error()
	)
	for {
		name, tail, ok := strings.Cut(rest, ": ")
		if !ok {
			return err
		}
		f, ok := typ.FieldByName(name)
		if !ok {
			return err
		}
		key, opts, _ := strings.Cut(f.Tag.Get("env"), ",")
		if p, ok := prefixOption(opts); ok && f.Type.Kind() == reflect.Struct {
			prefix += p
			typ = f.Type
			rest = tail
			continue
		}
		if key = strings.TrimSpace(key); key == "" {
			return err
		}
		return &keyError{key: prefix + key, detail: tail, err: err}
	}
}

func prefixOption(opts string) (string, bool) {
	for _, o := range strings.Split(opts, ",") {
		if p, ok := strings.CutPrefix(strings.TrimSpace(o), "prefix="); ok {
			return p, true
		}
	}
	return "", false
}

// Validate checks field ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("SHARD_COUNT", c.ShardCount)
	positive("BATCH_SIZE", c.BatchSize)
	positive("REST_WORKERS", c.RestWorkers)
	positive("REPLICATION_FACTOR", c.ReplicationFactor)
	positive("EVENT_BURST", c.EventBurst)
	positive("PING_FAILURES", c.PingFailures)
	if c.EventRate <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_RATE must be positive, got %v", c.EventRate))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("PING_INTERVAL must be positive, got %v", c.PingInterval))
	}

	if len(nonEmpty(c.APIKeys)) == 0 {
		errs = append(errs, errors.New("API_KEYS must list at least one key"))
	}

	cats := c.CategoryList()
	if len(cats) == 0 {
		errs = append(errs, errors.New("CATEGORIES must list at least one category"))
	}
	for _, cat := range cats {
		if !cat.Valid() {
			errs = append(errs, fmt.Errorf("CATEGORIES: invalid name %q", cat))
		}
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverCassandra:
		if len(nonEmpty(c.Cassandra.Hosts)) == 0 {
			errs = append(errs, errors.New("CASSANDRA_HOSTS is required for the cassandra driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of %s, %s", c.StoreDriver, DriverMemory, DriverCassandra))
	}

	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required with TELEGRAM_TOKEN"))
	}
	return errors.Join(errs...)
}

// Origins returns the trimmed, non-empty EVENT_ORIGINS patterns.
func (c *Config) Origins() []string {
	return nonEmpty(c.EventOrigins)
}

// Keys returns the trimmed, non-empty API keys.
func (c *Config) Keys() []string {
	return nonEmpty(c.APIKeys)
}

// CategoryList returns the configured categories.
func (c *Config) CategoryList() []combo.Category {
	names := nonEmpty(c.Categories)
	out := make([]combo.Category, len(names))
	for i, n := range names {
		out[i] = combo.Category(n)
	}
	return out
}

// CassandraConfig converts the CASSANDRA_* settings for the storage package.
func (c *Config) CassandraConfig() storage.CassandraConfig {
	return storage.CassandraConfig{
		Hosts:    nonEmpty(c.Cassandra.Hosts),
		Port:     c.Cassandra.Port,
		Username: c.Cassandra.Username,
		Password: c.Cassandra.Password,
		CAPath:   c.Cassandra.CAPath,
		Timeout:  c.Cassandra.Timeout,
	}
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
