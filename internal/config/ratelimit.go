package config

import (
	"time"
)

// RateLimitConfig drives the Redis token-bucket limiter.  The bucket
// refills RefillTokens every RefillInterval up to Capacity; TTL bounds
// how long idle buckets live in Redis.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfig reads environment variables to build a
// RateLimitConfig, clamping nonsensical values to safe minimums.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:        getenv("RATE_LIMIT_ENABLED", "true") == "true",
		Capacity:       atoiDefault("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   atoiDefault("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: parseDurDefault("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            parseDurDefault("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    getenv("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         getenv("RATE_LIMIT_PREFIX", "rl"),
		Debug:          getenv("RATE_LIMIT_DEBUG", "false") == "true",
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillTokens < 1 {
		cfg.RefillTokens = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if minTTL := 5 * cfg.RefillInterval; cfg.TTL < minTTL {
		cfg.TTL = minTTL
	}
	return cfg
}

func atoiDefault(k string, d int) int {
	if v := getenv(k, ""); v != "" {
		if n := atoi(v); n != 0 {
			return n
		}
	}
	return d
}

func parseDurDefault(k string, d time.Duration) time.Duration {
	if v := getenv(k, ""); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}
