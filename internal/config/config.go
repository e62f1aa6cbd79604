package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type AppConfig struct {
	RedisURL    string
	DatabaseURL string
	// Store selects the session document backend: redis or memory.
	Store string

	HTTPAddr   string
	StreamAddr string

	TimeControlMinutes int
	IncrementSeconds   int
	ConflictRetries    int
	SessionTTL         time.Duration

	SettleRetryInterval time.Duration
	DefaultRating       int

	// RateLimitPerMinute caps API requests per client IP; 0 disables it.
	RateLimitPerMinute int

	MessagesDir string
	// WebhookURL receives a POST for every ended session when set.
	WebhookURL string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Store:               StoreRedis,
		HTTPAddr:            ":8080",
		StreamAddr:          ":8081",
		TimeControlMinutes:  10,
		IncrementSeconds:    0,
		ConflictRetries:     3,
		SessionTTL:          168 * time.Hour,
		SettleRetryInterval: 30 * time.Second,
		DefaultRating:       1200,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("ARENA_MESSAGES_DIR"))
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("ARENA_WEBHOOK_URL"))

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("ARENA_STORE"))); v != "" {
		cfg.Store = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENA_HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENA_STREAM_ADDR")); v != "" {
		cfg.StreamAddr = v
	}

	if n, ok := positiveInt("ARENA_TIME_CONTROL_MINUTES"); ok {
		cfg.TimeControlMinutes = n
	}
	if v := strings.TrimSpace(os.Getenv("ARENA_INCREMENT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.IncrementSeconds = n
		}
	}
	if n, ok := positiveInt("ARENA_CONFLICT_RETRIES"); ok {
		cfg.ConflictRetries = n
	}
	// 0 disables expiry
	if v := strings.TrimSpace(os.Getenv("ARENA_SESSION_TTL_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SessionTTL = time.Duration(n) * time.Hour
		}
	}
	if n, ok := positiveInt("ARENA_SETTLE_RETRY_INTERVAL_SEC"); ok {
		cfg.SettleRetryInterval = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("ARENA_RATE_LIMIT_PER_MIN"); ok {
		cfg.RateLimitPerMinute = n
	}
	if n, ok := positiveInt("ARENA_DEFAULT_RATING"); ok {
		cfg.DefaultRating = n
	}

	switch cfg.Store {
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required when ARENA_STORE=redis")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unsupported ARENA_STORE %q", cfg.Store)
	}
	return cfg, nil
}

func positiveInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
