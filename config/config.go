// Package config loads the service configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"quake-notifier/pkg/quake"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverFile   = "file"
	DriverGCS    = "gcs"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// DefaultSchedule polls every minute at second 21.
const DefaultSchedule = "21 * * * * *"

// Config is the validated service configuration.
type Config struct {
	FeedURL  string         `yaml:"feed_url"`
	Schedule string         `yaml:"schedule"` // Cron spec with a seconds field; empty disables the in-process trigger
	Port     string         `yaml:"port"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
	Delivery DeliveryConfig `yaml:"delivery"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// WebhookConfig holds the notify and error webhook groups.
type WebhookConfig struct {
	Notify []string `yaml:"notify"` // One or more
	Error  string   `yaml:"error"`  // Exactly one
}

// DeliveryConfig controls webhook delivery.
type DeliveryConfig struct {
	RatePerSec float64 `yaml:"rate_per_sec"` // Zero disables the limit
	Burst      int     `yaml:"burst"`
	DryRun     bool    `yaml:"dry_run"` // Log messages instead of posting
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// StorageConfig selects and configures the state backend.
type StorageConfig struct {
	Driver string       `yaml:"driver"` // file | gcs | redis | sqlite
	Dir    string       `yaml:"dir"`
	Bucket string       `yaml:"bucket"`
	SQLite string       `yaml:"sqlite_path"`
	Redis  RedisStorage `yaml:"redis"`
}

// RedisStorage configures the redis driver.
type RedisStorage struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	ArtifactTTL time.Duration `yaml:"artifact_ttl"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		FeedURL:  "https://www.data.jma.go.jp/developer/xml/feed/eqvol.xml",
		Schedule: DefaultSchedule,
		Port:     "8080",
		Delivery: DeliveryConfig{Burst: 1},
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "quake-notifier/1.0",
		},
		Storage: StorageConfig{
			Driver: DriverFile,
			Dir:    "./data",
			SQLite: "./data/state.db",
			Redis:  RedisStorage{KeyPrefix: "quake-notifier:"},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment overrides.
// The result is not validated.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyEnv(os.LookupEnv)
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	env := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := env("FEED_URL"); ok {
		c.FeedURL = v
	}
	if v, ok := env("PORT"); ok {
		c.Port = v
	}
	if v, ok := env("NOTIFY_WEBHOOKS"); ok {
		c.Webhooks.Notify = splitList(v)
	}
	if v, ok := env("ERROR_WEBHOOK"); ok {
		c.Webhooks.Error = v
	}
	if v, ok := env("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	// LOCAL_STORAGE wins over STORAGE_BUCKET.
	if v, ok := env("STORAGE_BUCKET"); ok {
		c.Storage.Driver = DriverGCS
		c.Storage.Bucket = v
	}
	if v, ok := env("LOCAL_STORAGE"); ok {
		c.Storage.Driver = DriverFile
		c.Storage.Dir = v
	}
	if v, ok := env("REDIS_ADDR"); ok {
		c.Storage.Redis.Addr = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Webhooks.Notify) == 0 {
		errs = append(errs, errors.New("webhooks.notify: at least one URL is required"))
	}
	for _, u := range c.Webhooks.Notify {
		if err := checkURL(u); err != nil {
			errs = append(errs, fmt.Errorf("webhooks.notify: %w", err))
		}
	}
	if c.Webhooks.Error == "" {
		errs = append(errs, errors.New("webhooks.error: exactly one URL is required"))
	} else if err := checkURL(c.Webhooks.Error); err != nil {
		errs = append(errs, fmt.Errorf("webhooks.error: %w", err))
	}

	if err := checkURL(c.FeedURL); err != nil {
		errs = append(errs, fmt.Errorf("feed_url: %w", err))
	}

	switch c.Storage.Driver {
	case DriverFile:
	case DriverGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for the gcs driver"))
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis driver"))
		}
	case DriverSQLite:
		if c.Storage.SQLite == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	if c.Schedule != "" {
		if _, err := cron.NewParser(ScheduleParseOptions).Parse(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", c.Schedule, err))
		}
	}

	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.Delivery.RatePerSec < 0 {
		errs = append(errs, errors.New("delivery.rate_per_sec must not be negative"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ScheduleParseOptions is the cron field set accepted for Schedule.
const ScheduleParseOptions = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Targets returns the webhook groups.
func (c *Config) Targets() quake.Targets {
	return quake.Targets{
		Notify: append([]string(nil), c.Webhooks.Notify...),
		Error:  c.Webhooks.Error,
	}
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("need an absolute http(s) URL")
	}
	return nil
}
