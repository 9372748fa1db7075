package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds service configuration.
type Config struct {
	StoreBackend  string `yaml:"store_backend"` // memory, file, sqlite, or redis
	StorePath     string `yaml:"store_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Interval overrides the period derived from the checks-per-day setting when positive.
	Interval        time.Duration `yaml:"interval"`
	Timeout         time.Duration `yaml:"timeout"`
	Parallelism     int           `yaml:"parallelism"`
	UserAgent       string        `yaml:"user_agent"`
	IncludeInactive bool          `yaml:"include_inactive"`
	MaxBodySize     int           `yaml:"max_body_size"` // bytes read per page, 0 for no limit

	Workers            int           `yaml:"workers"`
	PipelineBufferSize int           `yaml:"pipeline_buffer_size"`
	BatchSize          int           `yaml:"batch_size"`
	PatternCacheSize   int           `yaml:"pattern_cache_size"`
	InboxSize          int           `yaml:"inbox_size"`
	SessionTTL         time.Duration `yaml:"session_ttl"` // idle picking sessions are closed after this
	JournalFile        string        `yaml:"journal_file"`
	JournalFormat      string        `yaml:"journal_format"` // csv, json, or dual

	WebhookURL   string `yaml:"webhook_url"`
	NATSURL      string `yaml:"nats_url"`
	NATSSubject  string `yaml:"nats_subject"`
	RedisChannel string `yaml:"redis_channel"`

	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultConfig returns defaults suitable for a single local instance.
func DefaultConfig() *Config {
	return &Config{
		StoreBackend:       "file",
		StorePath:          "data",
		RedisAddr:          "localhost:6379",
		Interval:           0,
		Timeout:            30 * time.Second,
		Parallelism:        8,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		IncludeInactive:    false,
		MaxBodySize:        10 << 20,
		Workers:            2,
		PipelineBufferSize: 256,
		BatchSize:          16,
		PatternCacheSize:   512,
		InboxSize:          16,
		SessionTTL:         30 * time.Minute,
		JournalFile:        "",
		JournalFormat:      "json",
		NATSSubject:        "pricewatch.notifications",
		RedisChannel:       "pricewatch:notifications",
		ListenAddr:         ":8080",
		MetricsAddr:        "",
		Verbose:            false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "memory":
	case "file", "sqlite":
		if c.StorePath == "" {
			return fmt.Errorf("store path cannot be empty for %s backend", c.StoreBackend)
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis addr cannot be empty for redis backend")
		}
	default:
		return fmt.Errorf("store backend must be memory, file, sqlite, or redis")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis db cannot be negative")
	}

	if c.Interval < 0 {
		return fmt.Errorf("interval cannot be negative")
	}
	if c.Interval > 0 && c.Interval < time.Second {
		return fmt.Errorf("interval must be at least one second")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.MaxBodySize < 0 {
		return fmt.Errorf("max body size cannot be negative")
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.PatternCacheSize <= 0 {
		return fmt.Errorf("pattern cache size must be positive")
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("inbox size must be positive")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("session ttl cannot be negative")
	}
	if c.JournalFile != "" && c.JournalFormat != "csv" && c.JournalFormat != "json" && c.JournalFormat != "dual" {
		return fmt.Errorf("journal format must be csv, json, or dual")
	}

	if c.WebhookURL != "" {
		parsed, err := url.Parse(c.WebhookURL)
		if err != nil {
			return fmt.Errorf("invalid webhook URL: %w", err)
		}
		if parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("webhook URL must be an absolute http(s) URL")
		}
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("nats subject cannot be empty when nats url is set")
	}

	return nil
}
