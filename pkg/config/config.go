// Package config loads engine configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds tunables for the authorization engine and its collaborators.
type Config struct {
	// TrustCacheTTL bounds trust score cache age.
	TrustCacheTTL time.Duration
	// DefaultTrustThreshold applies to roles without a specific threshold.
	DefaultTrustThreshold float64
	// RoleTrustThresholds maps role -> minimum composite trust.
	RoleTrustThresholds map[string]float64

	// RateLimitRPM and RateLimitBurst configure engine-level backpressure.
	RateLimitRPM   int
	RateLimitBurst int

	// DatabasePath is the SQLite file ("" disables persistence).
	DatabasePath string
	// DatabaseURL is the Postgres DSN (overrides DatabasePath when set).
	DatabaseURL string
	// RedisAddr enables the shared rate limiter backend when set.
	RedisAddr string

	// LawPackPath points to the YAML ruleset for the law oracle.
	LawPackPath string

	// Platform names this authority's ledger boundary.
	Platform string
}

// Load reads configuration from the environment, with defaults.
func Load() *Config {
	cfg := &Config{
		TrustCacheTTL:         5 * time.Minute,
		DefaultTrustThreshold: 0.5,
		RoleTrustThresholds:   map[string]float64{},
		RateLimitRPM:          600,
		RateLimitBurst:        60,
		DatabasePath:          os.Getenv("TRUSTPLANE_DB_PATH"),
		DatabaseURL:           os.Getenv("TRUSTPLANE_DATABASE_URL"),
		RedisAddr:             os.Getenv("TRUSTPLANE_REDIS_ADDR"),
		LawPackPath:           os.Getenv("TRUSTPLANE_LAW_PACK"),
		Platform:              "default",
	}

	if v := os.Getenv("TRUSTPLANE_PLATFORM"); v != "" {
		cfg.Platform = v
	}
	if v := os.Getenv("TRUSTPLANE_TRUST_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TrustCacheTTL = d
		}
	}
	if v := os.Getenv("TRUSTPLANE_TRUST_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.DefaultTrustThreshold = f
		}
	}
	// Role thresholds: "worker=0.4,supervisor=0.7"
	if v := os.Getenv("TRUSTPLANE_ROLE_TRUST_THRESHOLDS"); v != "" {
		for _, pair := range strings.Split(v, ",") {
			parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(parts) != 2 {
				continue
			}
			if f, err := strconv.ParseFloat(parts[1], 64); err == nil && f >= 0 && f <= 1 {
				cfg.RoleTrustThresholds[parts[0]] = f
			}
		}
	}
	if v := os.Getenv("TRUSTPLANE_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitRPM = n
		}
	}
	if v := os.Getenv("TRUSTPLANE_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		}
	}
	return cfg
}

// TrustThresholdFor returns the trust threshold for a role.
func (c *Config) TrustThresholdFor(role string) float64 {
	if t, ok := c.RoleTrustThresholds[role]; ok {
		return t
	}
	return c.DefaultTrustThreshold
}
