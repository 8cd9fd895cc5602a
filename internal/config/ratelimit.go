package config

import "time"

// RateLimitConfig tunes the token-bucket limiter applied to the public
// inference endpoint. This is a per-client inbound guard, unrelated to the
// per-key health tracking inside the pool.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int           // bucket size (burst allowance)
	RefillTokens   int           // tokens added per refill interval
	RefillInterval time.Duration // how often tokens are added
	TTL            time.Duration // idle lifetime of a bucket in redis
	Prefix         string        // redis key namespace
}

// LoadRateLimitConfig reads rate limiter settings from the environment.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
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
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return cfg
}
