package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the variable pointing at an optional YAML file.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"/etc/game-reviews/config.yaml",
}

// Config captures all runtime configuration. Every koanf key is the lower-cased
// name of the environment variable that overrides it.
type Config struct {
	Port             string `koanf:"port"`
	JWTSecret        string `koanf:"jwt_secret"`
	DBURL            string `koanf:"db_url"`
	LogLevel         string `koanf:"log_level"`
	ReadTimeoutSecs  int    `koanf:"server_read_timeout"`
	WriteTimeoutSecs int    `koanf:"server_write_timeout"`
	IdleTimeoutSecs  int    `koanf:"server_idle_timeout"`

	DBMaxConns        int `koanf:"db_max_conns"`
	DBMinConns        int `koanf:"db_min_conns"`
	DBMaxIdleSecs     int `koanf:"db_max_conn_idle_secs"`
	DBMaxLifeSecs     int `koanf:"db_max_conn_lifetime_secs"`
	DBConnTimeoutSecs int `koanf:"db_conn_timeout_secs"`
	DBStatementCache  int `koanf:"db_statement_cache_capacity"`

	CORSOrigins        []string `koanf:"cors_origins"`
	RateLimitPerMinute int      `koanf:"rate_limit_per_minute"`
	OneReviewPerAuthor bool     `koanf:"one_review_per_author"`

	RecomputeInterval time.Duration `koanf:"recompute_interval"`
	RecomputeTimeout  time.Duration `koanf:"recompute_timeout"`
	RecomputeWorkers  int           `koanf:"recompute_workers"`

	NATSURL            string        `koanf:"nats_url"`
	NATSStream         string        `koanf:"nats_stream"`
	OutboxPollInterval time.Duration `koanf:"outbox_poll_interval"`
	OutboxBatchSize    int           `koanf:"outbox_batch_size"`
}

func defaultConfig() Config {
	return Config{
		Port:               "8080",
		LogLevel:           "info",
		ReadTimeoutSecs:    15,
		WriteTimeoutSecs:   15,
		IdleTimeoutSecs:    60,
		DBMaxConns:         20,
		DBMinConns:         2,
		DBMaxIdleSecs:      300,
		DBMaxLifeSecs:      3600,
		DBConnTimeoutSecs:  10,
		DBStatementCache:   256,
		CORSOrigins:        []string{"*"},
		RateLimitPerMinute: 60,
		RecomputeTimeout:   10 * time.Minute,
		RecomputeWorkers:   1,
		NATSStream:         "REVIEWS",
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
	}
}

// sliceKeys arrive from the environment as comma-separated strings.
var sliceKeys = []string{"cors_origins"}

// Load layers defaults, an optional YAML file and environment variables, in
// that order of precedence, then validates the result.
func Load() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	known := make(map[string]struct{})
	for _, key := range k.Keys() {
		known[key] = struct{}{}
	}
	envProvider := env.Provider("", ".", func(key string) string {
		key = strings.ToLower(key)
		if _, ok := known[key]; !ok {
			return ""
		}
		return key
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSlices(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting by its environment variable name.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.DBURL == "" {
		return fmt.Errorf("DB_URL is required")
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if c.DBStatementCache < 0 {
		return fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.RecomputeInterval < 0 {
		return fmt.Errorf("RECOMPUTE_INTERVAL must be non-negative")
	}
	if c.RecomputeTimeout <= 0 {
		return fmt.Errorf("RECOMPUTE_TIMEOUT must be positive")
	}
	if c.RecomputeWorkers <= 0 {
		return fmt.Errorf("RECOMPUTE_WORKERS must be positive")
	}
	if c.NATSURL != "" && c.NATSStream == "" {
		return fmt.Errorf("NATS_STREAM is required when NATS_URL is set")
	}
	if c.OutboxPollInterval <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL must be positive")
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	return nil
}

// EventsEnabled reports whether mutations should write outbox rows.
func (c Config) EventsEnabled() bool {
	return c.NATSURL != ""
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func splitSlices(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		raw, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0)
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}
