// Package config loads the service configuration from an optional YAML
// file, an optional .env file and the process environment, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"

	minSecretLen = 32
)

type Config struct {
	Env string `yaml:"env"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	HTTP struct {
		Addr            string        `yaml:"addr"`
		CORSOrigin      string        `yaml:"cors_origin"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Database struct {
		URL      string `yaml:"url"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"database"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret  string        `yaml:"jwt_secret"`
		Issuer     string        `yaml:"issuer"`
		Platform   string        `yaml:"platform"`
		NonceTTL   time.Duration `yaml:"nonce_ttl"`
		SessionTTL time.Duration `yaml:"session_ttl"`

		// postgres | redis | memory
		NonceBackend  string        `yaml:"nonce_backend"`
		SweepInterval time.Duration `yaml:"sweep_interval"`

		Retry struct {
			MaxAttempts int           `yaml:"max_attempts"`
			BaseDelay   time.Duration `yaml:"base_delay"`
			Multiplier  float64       `yaml:"multiplier"`
		} `yaml:"retry"`

		AllowFallbackNonce   bool   `yaml:"allow_fallback_nonce"`
		FallbackNonce        string `yaml:"fallback_nonce"`
		AllowPlaceholderUser bool   `yaml:"allow_placeholder_user"`
	} `yaml:"auth"`

	Events struct {
		// Login and logout events go to Redis streams when enabled and a
		// Redis URL is configured.
		Enabled bool `yaml:"enabled"`
	} `yaml:"events"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	var c Config
	c.Env = EnvDevelopment
	c.Log.Level = "info"
	c.HTTP.Addr = ":3001"
	c.HTTP.CORSOrigin = "*"
	c.HTTP.ShutdownTimeout = 15 * time.Second
	c.Database.MaxConns = 10
	c.Auth.Issuer = "veltis"
	c.Auth.Platform = "VELTIS"
	c.Auth.NonceTTL = 15 * time.Minute
	c.Auth.SessionTTL = 24 * time.Hour
	c.Auth.NonceBackend = BackendPostgres
	c.Auth.SweepInterval = 15 * time.Minute
	c.Auth.Retry.MaxAttempts = 3
	c.Auth.Retry.BaseDelay = time.Second
	c.Auth.Retry.Multiplier = 2
	c.Auth.FallbackNonce = "123456"
	c.Metrics.Enabled = true
	return &c
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing .env file is ignored. Variables already set in the environment
// win over values from .env.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	c.applyEnvOverrides()
	return c, nil
}

func getEnvStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvFloat(key string) (float64, bool) {
	if s, ok := getEnvStr(key); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d, true
		}
	}
	return 0, false
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("VELTIS_ENV"); ok {
		c.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("VELTIS_LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	// HTTP
	if v, ok := getEnvStr("PORT"); ok {
		c.HTTP.Addr = ":" + v
	}
	if v, ok := getEnvStr("VELTIS_HTTP_ADDR"); ok {
		c.HTTP.Addr = v
	}
	if v, ok := getEnvStr("VELTIS_CORS_ORIGIN"); ok {
		c.HTTP.CORSOrigin = v
	}
	if v, ok := getEnvDur("VELTIS_SHUTDOWN_TIMEOUT"); ok {
		c.HTTP.ShutdownTimeout = v
	}

	// Stores
	if v, ok := getEnvStr("DATABASE_URL"); ok {
		c.Database.URL = v
	}
	if v, ok := getEnvInt("VELTIS_DATABASE_MAX_CONNS"); ok {
		c.Database.MaxConns = int32(v)
	}
	if v, ok := getEnvStr("REDIS_URL"); ok {
		c.Redis.URL = v
	}

	// Auth
	if v, ok := getEnvStr("JWT_SECRET"); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := getEnvStr("VELTIS_JWT_ISSUER"); ok {
		c.Auth.Issuer = v
	}
	if v, ok := getEnvStr("VELTIS_PLATFORM"); ok {
		c.Auth.Platform = v
	}
	if v, ok := getEnvDur("VELTIS_NONCE_TTL"); ok {
		c.Auth.NonceTTL = v
	}
	if v, ok := getEnvDur("VELTIS_SESSION_TTL"); ok {
		c.Auth.SessionTTL = v
	}
	if v, ok := getEnvStr("VELTIS_NONCE_BACKEND"); ok {
		c.Auth.NonceBackend = strings.ToLower(v)
	}
	if v, ok := getEnvDur("VELTIS_SWEEP_INTERVAL"); ok {
		c.Auth.SweepInterval = v
	}
	if v, ok := getEnvInt("VELTIS_RETRY_MAX_ATTEMPTS"); ok {
		c.Auth.Retry.MaxAttempts = v
	}
	if v, ok := getEnvDur("VELTIS_RETRY_BASE_DELAY"); ok {
		c.Auth.Retry.BaseDelay = v
	}
	if v, ok := getEnvFloat("VELTIS_RETRY_MULTIPLIER"); ok {
		c.Auth.Retry.Multiplier = v
	}
	if v, ok := getEnvBool("VELTIS_ALLOW_FALLBACK_NONCE"); ok {
		c.Auth.AllowFallbackNonce = v
	}
	if v, ok := getEnvStr("VELTIS_FALLBACK_NONCE"); ok {
		c.Auth.FallbackNonce = v
	}
	if v, ok := getEnvBool("VELTIS_ALLOW_PLACEHOLDER_USER"); ok {
		c.Auth.AllowPlaceholderUser = v
	}

	if v, ok := getEnvBool("VELTIS_EVENTS_ENABLED"); ok {
		c.Events.Enabled = v
	}
	if v, ok := getEnvBool("VELTIS_METRICS_ENABLED"); ok {
		c.Metrics.Enabled = v
	}
}

// Validate rejects configurations the service cannot run safely with
func (c *Config) Validate() error {
	var errs []error

	if len(c.Auth.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLen))
	}

	switch c.Auth.NonceBackend {
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres nonce backend"))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis nonce backend"))
		}
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for user storage"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown auth.nonce_backend %q", c.Auth.NonceBackend))
	}

	if c.Auth.NonceTTL <= 0 {
		errs = append(errs, errors.New("auth.nonce_ttl must be positive"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("auth.session_ttl must be positive"))
	}
	if c.Auth.SweepInterval <= 0 {
		errs = append(errs, errors.New("auth.sweep_interval must be positive"))
	}
	if c.Auth.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("auth.retry.max_attempts must be at least 1"))
	}
	if c.Auth.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("auth.retry.base_delay must not be negative"))
	}

	if c.Env == EnvProduction {
		if c.Auth.AllowFallbackNonce {
			errs = append(errs, errors.New("auth.allow_fallback_nonce is not allowed in production"))
		}
		if c.Auth.AllowPlaceholderUser {
			errs = append(errs, errors.New("auth.allow_placeholder_user is not allowed in production"))
		}
	}

	return errors.Join(errs...)
}
