// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/vaultdesk/pnl-engine/internal/asset"
	"github.com/vaultdesk/pnl-engine/internal/limits"
	"github.com/vaultdesk/pnl-engine/internal/pnl"
)

var ErrInvalidConfig = errors.New("config: invalid value")

// Config holds everything cmd/server needs to start.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	// DefaultMethod is the accounting method new accounts start with.
	DefaultMethod pnl.Method
	LogLevel      slog.Level

	// Concentration limits. Zero disables a check.
	MaxPerAsset decimal.Decimal
	MaxPerGroup decimal.Decimal
	AssetGroups map[asset.Symbol]string
}

// Load reads a .env file if present, then builds the configuration from
// the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using process environment")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function. Missing values
// take their defaults; malformed values are an error.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:        get("PORT", "8080"),
		DatabaseURL: get("DATABASE_URL", ""),
		RedisURL:    get("REDIS_URL", ""),
		MaxPerAsset: decimal.Zero,
		MaxPerGroup: decimal.Zero,
	}

	ttl, err := time.ParseDuration(get("CACHE_TTL", "30s"))
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("%w: CACHE_TTL=%q", ErrInvalidConfig, getenv("CACHE_TTL"))
	}
	cfg.CacheTTL = ttl

	method, err := pnl.ParseMethod(get("DEFAULT_METHOD", "FIFO"))
	if err != nil {
		return nil, fmt.Errorf("%w: DEFAULT_METHOD: %v", ErrInvalidConfig, err)
	}
	cfg.DefaultMethod = method

	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "INFO"))); err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalidConfig, err)
	}

	if cfg.MaxPerAsset, err = parseLimit(get("LIMIT_MAX_PER_ASSET", "0")); err != nil {
		return nil, fmt.Errorf("%w: LIMIT_MAX_PER_ASSET: %v", ErrInvalidConfig, err)
	}
	if cfg.MaxPerGroup, err = parseLimit(get("LIMIT_MAX_PER_GROUP", "0")); err != nil {
		return nil, fmt.Errorf("%w: LIMIT_MAX_PER_GROUP: %v", ErrInvalidConfig, err)
	}

	if cfg.AssetGroups, err = limits.ParseGroups(get("ASSET_GROUPS", "")); err != nil {
		return nil, fmt.Errorf("%w: ASSET_GROUPS: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

func parseLimit(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative, got %s", s)
	}
	return v, nil
}
