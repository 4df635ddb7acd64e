// Package config loads service configuration from the environment. The
// token signing secret is mandatory: the process refuses to start without
// one rather than running with a guessable default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	envSecret     = "HEALTHFOLIO_AUTH_SECRET"
	envPGDSN      = "HEALTHFOLIO_PG_DSN"
	envRedisAddr  = "HEALTHFOLIO_REDIS_ADDR"
	envListenAddr = "HEALTHFOLIO_ADDR"
	envAccessTTL  = "HEALTHFOLIO_ACCESS_TTL"
	envRefreshTTL = "HEALTHFOLIO_REFRESH_TTL"
	envIssuer     = "HEALTHFOLIO_ISSUER"
	envEnv        = "HEALTHFOLIO_ENV"
)

const minSecretLength = 32

// Config is the process configuration.
type Config struct {
	AuthSecret []byte
	PGDSN      string
	RedisAddr  string
	ListenAddr string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Production bool
}

// Load reads and validates configuration. It fails fast on a missing or
// weak secret and on malformed durations.
func Load() (*Config, error) {
	cfg := &Config{
		PGDSN:      strings.TrimSpace(os.Getenv(envPGDSN)),
		RedisAddr:  strings.TrimSpace(os.Getenv(envRedisAddr)),
		ListenAddr: strings.TrimSpace(os.Getenv(envListenAddr)),
		Issuer:     strings.TrimSpace(os.Getenv(envIssuer)),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Production: strings.EqualFold(strings.TrimSpace(os.Getenv(envEnv)), "production"),
	}

	secret := strings.TrimSpace(os.Getenv(envSecret))
	if secret == "" {
		return nil, fmt.Errorf("%s is required", envSecret)
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%s must be at least %d bytes", envSecret, minSecretLength)
	}
	cfg.AuthSecret = []byte(secret)

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.PGDSN != "" && cfg.RedisAddr != "" {
		return nil, errors.New("configure either the postgres or the redis token store, not both")
	}

	var err error
	if cfg.AccessTTL, err = parseTTL(envAccessTTL, cfg.AccessTTL); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = parseTTL(envRefreshTTL, cfg.RefreshTTL); err != nil {
		return nil, err
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, errors.New("access TTL must be shorter than refresh TTL")
	}
	return cfg, nil
}

func parseTTL(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}
