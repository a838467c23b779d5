// Package config loads client settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/and161185/agromarket/internal/crypto/obfuscate"
)

// Session timing defaults.
const (
	DefaultRememberWindow     = 8 * time.Hour
	DefaultValidationInterval = 5 * time.Minute
	DefaultLiveSessionTTL     = 12 * time.Hour
	DefaultMaxLiveSessionTTL  = 24 * time.Hour
)

// Other defaults.
const (
	DefaultProfile     = "default"
	DefaultAPIURL      = "http://localhost:5000/api"
	DefaultAPITimeout  = 15 * time.Second
	DefaultRedisAddr   = "localhost:6379"
	DefaultMetricsAddr = "127.0.0.1:9464"
	DefaultLogLevel    = "info"

	appDir = "agromarket"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds resolved settings.
type Config struct {
	Profile    string
	APIURL     string
	APITimeout time.Duration

	Backend     string
	ConfigDir   string
	RuntimeDir  string
	Passphrase  string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	PostgresDSN string

	ObfuscationKey string

	RememberWindow     time.Duration
	ValidationInterval time.Duration
	LiveSessionTTL     time.Duration
	MaxLiveSessionTTL  time.Duration

	LogLevel    string
	LogDev      bool
	MetricsAddr string
}

// Load reads files (".env" when none are given; a missing file is ignored) into the
// environment without overriding variables already set, then resolves Config.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv resolves Config from environment variables only.
func FromEnv() (*Config, error) {
	p := &parser{}
	c := &Config{
		Profile:    p.str("AGM_PROFILE", DefaultProfile),
		APIURL:     p.str("AGM_API_URL", DefaultAPIURL),
		APITimeout: p.dur("AGM_API_TIMEOUT", DefaultAPITimeout),

		Backend:     strings.ToLower(p.str("AGM_STORAGE", BackendFile)),
		Passphrase:  os.Getenv("AGM_PASSPHRASE"),
		RedisAddr:   p.str("AGM_REDIS_ADDR", DefaultRedisAddr),
		RedisPass:   os.Getenv("AGM_REDIS_PASSWORD"),
		RedisDB:     p.integer("AGM_REDIS_DB", 0),
		PostgresDSN: os.Getenv("AGM_POSTGRES_DSN"),

		ObfuscationKey: p.str("AGM_OBFUSCATION_KEY", obfuscate.DefaultKey),

		RememberWindow:     p.dur("AGM_REMEMBER_WINDOW", DefaultRememberWindow),
		ValidationInterval: p.dur("AGM_VALIDATION_INTERVAL", DefaultValidationInterval),
		LiveSessionTTL:     p.dur("AGM_LIVE_SESSION_TTL", DefaultLiveSessionTTL),
		MaxLiveSessionTTL:  p.dur("AGM_MAX_LIVE_SESSION_TTL", DefaultMaxLiveSessionTTL),

		LogLevel:    p.str("AGM_LOG_LEVEL", DefaultLogLevel),
		LogDev:      p.boolean("AGM_LOG_DEV", false),
		MetricsAddr: p.str("AGM_METRICS_ADDR", DefaultMetricsAddr),
	}
	if p.err != nil {
		return nil, p.err
	}
	c.ConfigDir = filepath.Join(configHome(), appDir, c.Profile)
	c.RuntimeDir = filepath.Join(runtimeHome(), appDir, c.Profile)
	return c, c.Validate()
}

// Validate checks value ranges and backend requirements.
func (c *Config) Validate() error {
	var errs []error
	if c.Profile == "" || strings.ContainsAny(c.Profile, `/\*?[]`) || c.Profile == "." || c.Profile == ".." {
		errs = append(errs, fmt.Errorf("profile %q is not a plain name", c.Profile))
	}
	if c.APIURL == "" {
		errs = append(errs, errors.New("api url is empty"))
	}
	if c.ObfuscationKey == "" {
		errs = append(errs, errors.New("obfuscation key is empty"))
	}
	for name, d := range map[string]time.Duration{
		"remember window":     c.RememberWindow,
		"validation interval": c.ValidationInterval,
		"live session ttl":    c.LiveSessionTTL,
		"api timeout":         c.APITimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.MaxLiveSessionTTL < 0 {
		errs = append(errs, fmt.Errorf("max live session ttl must not be negative, got %s", c.MaxLiveSessionTTL))
	}
	if c.MaxLiveSessionTTL > 0 && c.LiveSessionTTL > c.MaxLiveSessionTTL {
		errs = append(errs, fmt.Errorf("live session ttl %s exceeds max %s", c.LiveSessionTTL, c.MaxLiveSessionTTL))
	}
	switch c.Backend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis backend needs AGM_REDIS_ADDR"))
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres backend needs AGM_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SetProfile switches the profile together with its directories.
func (c *Config) SetProfile(profile string) {
	c.ConfigDir = filepath.Join(filepath.Dir(c.ConfigDir), profile)
	c.RuntimeDir = filepath.Join(filepath.Dir(c.RuntimeDir), profile)
	c.Profile = profile
}

// RememberPath is the long-lived storage file.
func (c *Config) RememberPath() string { return filepath.Join(c.ConfigDir, "remember.json") }

// SessionPath is the short-lived storage file.
func (c *Config) SessionPath() string { return filepath.Join(c.RuntimeDir, "session.json") }

func configHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

func runtimeHome() string {
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return v
	}
	return os.TempDir()
}

type parser struct{ err error }

func (p *parser) fail(key, val string, err error) {
	p.err = errors.Join(p.err, fmt.Errorf("config: %s=%q: %w", key, val, err))
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (p *parser) dur(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}
