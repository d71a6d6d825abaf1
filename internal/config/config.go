// Package config loads service configuration from a YAML file, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the service configuration.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Log       LogConfig       `mapstructure:"log"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Retention RetentionConfig `mapstructure:"retention"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
}

// DatabaseConfig selects Postgres; an empty URL runs on in-memory stores.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Channel  string        `mapstructure:"channel"`
	StateTTL time.Duration `mapstructure:"state_ttl"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	IngestSecret  string        `mapstructure:"ingest_secret"`
	IngestMaxSkew time.Duration `mapstructure:"ingest_max_skew"`
}

type WebhookConfig struct {
	URL          string        `mapstructure:"url"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
	Escalation   time.Duration `mapstructure:"escalation"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type RulesConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SweepConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Schedule     string        `mapstructure:"schedule"`
	Timezone     string        `mapstructure:"timezone"`
	Workers      int           `mapstructure:"workers"`
	ActiveWindow time.Duration `mapstructure:"active_window"`
	Lookback     time.Duration `mapstructure:"lookback"`
}

type RetentionConfig struct {
	Schedule string        `mapstructure:"schedule"`
	Metrics  time.Duration `mapstructure:"metrics"`
	Audit    time.Duration `mapstructure:"audit"`
}

type AuditConfig struct {
	Buffer int `mapstructure:"buffer"`
}

var envBindings = map[string]string{
	"database.url":       "DATABASE_URL",
	"http.addr":          "HTTP_ADDR",
	"redis.addr":         "REDIS_ADDR",
	"amqp.url":           "AMQP_URL",
	"auth.jwt_secret":    "JWT_SECRET",
	"auth.ingest_secret": "INGEST_SECRET",
	"webhook.url":        "WEBHOOK_URL",
	"rules.path":         "RULES_PATH",
	"log.level":          "LOG_LEVEL",
	"log.format":         "LOG_FORMAT",
	"sweep.schedule":     "SWEEP_SCHEDULE",
}

// Load reads .env (when present), the optional config file and the environment.
// CONFIG_FILE points at an explicit file; otherwise config.yaml is searched in
// ./configs and the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.cors_origin", "*")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.channel", "stations:alerts")
	v.SetDefault("redis.state_ttl", 15*time.Minute)

	v.SetDefault("amqp.exchange", "swapstation.alerts")

	v.SetDefault("auth.ingest_max_skew", 5*time.Minute)

	v.SetDefault("webhook.cooldown", 60*time.Second)
	v.SetDefault("webhook.dedupe_window", 10*time.Second)
	v.SetDefault("webhook.escalation", 15*time.Minute)
	v.SetDefault("webhook.timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "0 * * * * *")
	v.SetDefault("sweep.timezone", "UTC")
	v.SetDefault("sweep.workers", 4)
	v.SetDefault("sweep.active_window", 5*time.Minute)
	v.SetDefault("sweep.lookback", 60*time.Minute)

	v.SetDefault("retention.schedule", "0 30 3 * * *")
	v.SetDefault("retention.metrics", 30*24*time.Hour)
	v.SetDefault("retention.audit", 90*24*time.Hour)

	v.SetDefault("audit.buffer", 256)
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("config: http.addr is required")
	}
	if c.Sweep.Workers <= 0 {
		return errors.New("config: sweep.workers must be positive")
	}
	if c.Sweep.ActiveWindow <= 0 || c.Sweep.Lookback <= 0 {
		return errors.New("config: sweep windows must be positive")
	}
	if c.Retention.Metrics <= 0 || c.Retention.Audit <= 0 {
		return errors.New("config: retention periods must be positive")
	}
	if _, err := time.LoadLocation(c.Sweep.Timezone); err != nil {
		return fmt.Errorf("config: sweep.timezone: %w", err)
	}
	return nil
}
