package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overrides cfg with PRICEWATCH_* variables.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		"PRICEWATCH_STORE":          &cfg.StoreBackend,
		"PRICEWATCH_STORE_PATH":     &cfg.StorePath,
		"PRICEWATCH_REDIS_ADDR":     &cfg.RedisAddr,
		"PRICEWATCH_REDIS_PASSWORD": &cfg.RedisPassword,
		"PRICEWATCH_USER_AGENT":     &cfg.UserAgent,
		"PRICEWATCH_JOURNAL":        &cfg.JournalFile,
		"PRICEWATCH_JOURNAL_FORMAT": &cfg.JournalFormat,
		"PRICEWATCH_WEBHOOK_URL":    &cfg.WebhookURL,
		"PRICEWATCH_NATS_URL":       &cfg.NATSURL,
		"PRICEWATCH_NATS_SUBJECT":   &cfg.NATSSubject,
		"PRICEWATCH_REDIS_CHANNEL":  &cfg.RedisChannel,
		"PRICEWATCH_LISTEN_ADDR":    &cfg.ListenAddr,
		"PRICEWATCH_METRICS_ADDR":   &cfg.MetricsAddr,
	}
	for key, dst := range strs {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"PRICEWATCH_REDIS_DB":    &cfg.RedisDB,
		"PRICEWATCH_PARALLEL":    &cfg.Parallelism,
		"PRICEWATCH_WORKERS":     &cfg.Workers,
		"PRICEWATCH_BATCH_SIZE":  &cfg.BatchSize,
		"PRICEWATCH_BUFFER_SIZE": &cfg.PipelineBufferSize,
		"PRICEWATCH_INBOX_SIZE":  &cfg.InboxSize,
		"PRICEWATCH_MAX_BODY":    &cfg.MaxBodySize,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"PRICEWATCH_INTERVAL":    &cfg.Interval,
		"PRICEWATCH_TIMEOUT":     &cfg.Timeout,
		"PRICEWATCH_SESSION_TTL": &cfg.SessionTTL,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	if value, ok, err := EnvBool("PRICEWATCH_INCLUDE_INACTIVE"); err != nil {
		return err
	} else if ok {
		cfg.IncludeInactive = value
	}
	if value, ok, err := EnvBool("PRICEWATCH_VERBOSE"); err != nil {
		return err
	} else if ok {
		cfg.Verbose = value
	}
	return nil
}
