// Package config loads the pipeline configuration from a YAML file with
// environment variable overrides. Secrets live in env vars (or a local
// .env file); the YAML carries structure and defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Providers ProvidersConfig `yaml:"providers"`
	Tracking  TrackingConfig  `yaml:"tracking"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSec int    `yaml:"write_timeout_seconds"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the dedup cache connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig holds ingestion queue settings. Backend is "memory" or
// "sqs"; the SQS backend lets processors run in a separate deployment.
type QueueConfig struct {
	Backend        string `yaml:"backend"`
	Capacity       int    `yaml:"capacity"`
	Workers        int    `yaml:"workers"`
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffBaseMS  int    `yaml:"backoff_base_ms"`
	BackoffMaxMS   int    `yaml:"backoff_max_ms"`
	SQSQueueURL    string `yaml:"sqs_queue_url"`
	SQSWaitSeconds int    `yaml:"sqs_wait_seconds"`
}

// BackoffBase returns the base retry delay.
func (c QueueConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c QueueConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// DedupConfig holds deduplication gate settings.
type DedupConfig struct {
	TTLHours int `yaml:"ttl_hours"`
}

// TTL returns the dedup record lifetime.
func (c DedupConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// ProviderConfig holds one provider's webhook authentication settings.
type ProviderConfig struct {
	Enabled       bool   `yaml:"enabled"`
	WebhookSecret string `yaml:"webhook_secret"`
	SkewMinutes   int    `yaml:"skew_minutes"`
}

// Skew returns the allowed timestamp drift for replay defense.
func (c ProviderConfig) Skew() time.Duration {
	return time.Duration(c.SkewMinutes) * time.Minute
}

// ProvidersConfig groups per-provider webhook settings.
type ProvidersConfig struct {
	SparkPost ProviderConfig `yaml:"sparkpost"`
	Mailgun   ProviderConfig `yaml:"mailgun"`
	SES       ProviderConfig `yaml:"ses"`
	SendGrid  ProviderConfig `yaml:"sendgrid"`
}

// TrackingConfig holds settings for the pixel/click endpoints.
type TrackingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SigningKey string `yaml:"signing_key"`
	BaseURL    string `yaml:"base_url"`
}

// Load reads and parses the configuration file, then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.ReadTimeoutSec == 0 {
		cfg.Server.ReadTimeoutSec = 5
	}
	if cfg.Server.WriteTimeoutSec == 0 {
		cfg.Server.WriteTimeoutSec = 10
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 5 * 1024 * 1024
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 100000
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 8
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffBaseMS == 0 {
		cfg.Queue.BackoffBaseMS = 500
	}
	if cfg.Queue.BackoffMaxMS == 0 {
		cfg.Queue.BackoffMaxMS = 30000
	}
	if cfg.Queue.SQSWaitSeconds == 0 {
		cfg.Queue.SQSWaitSeconds = 20
	}
	if cfg.Dedup.TTLHours == 0 {
		cfg.Dedup.TTLHours = 24
	}
	for _, p := range []*ProviderConfig{
		&cfg.Providers.SparkPost, &cfg.Providers.Mailgun,
		&cfg.Providers.SES, &cfg.Providers.SendGrid,
	} {
		if p.SkewMinutes == 0 {
			p.SkewMinutes = 10
		}
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env
// vars, so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		// Env-only deployments ship no YAML at all.
		cfg = &Config{}
		applyDefaults(cfg)
	} else if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("QUEUE_BACKEND"); v != "" {
		cfg.Queue.Backend = v
	}
	if v := os.Getenv("SQS_EVENTS_QUEUE_URL"); v != "" {
		cfg.Queue.SQSQueueURL = v
	}
	if v := os.Getenv("QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.Workers = n
		}
	}
	if v := os.Getenv("SPARKPOST_WEBHOOK_SECRET"); v != "" {
		cfg.Providers.SparkPost.WebhookSecret = v
		cfg.Providers.SparkPost.Enabled = true
	}
	if v := os.Getenv("MAILGUN_WEBHOOK_SIGNING_KEY"); v != "" {
		cfg.Providers.Mailgun.WebhookSecret = v
		cfg.Providers.Mailgun.Enabled = true
	}
	if v := os.Getenv("SES_WEBHOOK_SECRET"); v != "" {
		cfg.Providers.SES.WebhookSecret = v
		cfg.Providers.SES.Enabled = true
	}
	if v := os.Getenv("SENDGRID_WEBHOOK_SECRET"); v != "" {
		cfg.Providers.SendGrid.WebhookSecret = v
		cfg.Providers.SendGrid.Enabled = true
	}
	if v := os.Getenv("TRACKING_SIGNING_KEY"); v != "" {
		cfg.Tracking.SigningKey = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}

	return cfg, nil
}
