// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Source    SourceConfig    `mapstructure:"source"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScannerConfig governs scheduling and worker pool behavior.
type ScannerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout"`
	PageCap         int           `mapstructure:"page_cap"`
	DedupTTL        time.Duration `mapstructure:"dedup_ttl"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

// SourceConfig configures the external API client.
type SourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AuthToken      string        `mapstructure:"auth_token"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PageSize       int           `mapstructure:"page_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	MaxLimiterWait time.Duration `mapstructure:"max_limiter_wait"`
}

// RateLimitConfig bounds calls against the shared external quota.
type RateLimitConfig struct {
	Key    string        `mapstructure:"key"`
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// RedisConfig controls access to the shared Redis store.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for match event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEYWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("scanner.concurrency", 4)
	v.SetDefault("scanner.queue_depth", 64)
	v.SetDefault("scanner.tick_interval", "1m")
	v.SetDefault("scanner.max_attempts", 3)
	v.SetDefault("scanner.task_timeout", "2m")
	v.SetDefault("scanner.page_cap", 10)
	v.SetDefault("scanner.dedup_ttl", "24h")
	v.SetDefault("scanner.lock_ttl", "10m")
	v.SetDefault("source.user_agent", "keywatch/1.0")
	v.SetDefault("source.timeout", "15s")
	v.SetDefault("source.page_size", 100)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.backoff_base", "250ms")
	v.SetDefault("source.backoff_max", "5s")
	v.SetDefault("source.max_limiter_wait", "30s")
	v.SetDefault("rate_limit.key", "external-api")
	v.SetDefault("rate_limit.limit", 3)
	v.SetDefault("rate_limit.window", "1s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scanner.Concurrency <= 0 {
		return fmt.Errorf("scanner.concurrency must be > 0")
	}
	if c.Scanner.TickInterval <= 0 {
		return fmt.Errorf("scanner.tick_interval must be > 0")
	}
	if c.Scanner.MaxAttempts <= 0 {
		return fmt.Errorf("scanner.max_attempts must be > 0")
	}
	if c.Scanner.DedupTTL < c.Scanner.TickInterval {
		return fmt.Errorf("scanner.dedup_ttl must cover at least one tick interval")
	}
	if c.Scanner.LockTTL < time.Duration(c.Scanner.MaxAttempts)*c.Scanner.TaskTimeout {
		return fmt.Errorf("scanner.lock_ttl must cover max_attempts * task_timeout")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.limit and rate_limit.window must be > 0")
	}
	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}
