package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	gzaw "github.com/jamesprial/go-zulip-api-wrapper"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/validation"
)

// Environment variables that override file values.
const (
	EnvSite     = "ZULIP_URI"
	EnvEmail    = "ZULIP_USERNAME"
	EnvAPIKey   = "ZULIP_API_KEY"
	EnvPassword = "ZULIP_PASSWORD"
)

// Config captures what zulipctl needs to build a client.
type Config struct {
	Site      string
	Email     string
	APIKey    string
	Password  string
	UserAgent string
	Timeout   time.Duration
	LogLevel  slog.Level

	// RequestsPerMinute enables client-side throttling when positive.
	RequestsPerMinute float64
	Burst             int
}

const (
	defaultConfigPath = "~/.config/zulipctl/config.toml"
	defaultTimeout    = gzaw.DefaultTimeout
)

type rawConfig struct {
	Site      string `toml:"site"`
	Email     string `toml:"email"`
	APIKey    string `toml:"api_key"`
	Password  string `toml:"password"`
	UserAgent string `toml:"user_agent"`
	Timeout   string `toml:"timeout"`
	LogLevel  string `toml:"log_level"`

	RateLimit struct {
		RequestsPerMinute float64 `toml:"requests_per_minute"`
		Burst             int     `toml:"burst"`
	} `toml:"rate_limit"`
}

// Load locates and parses the config file, falling back to defaults when it
// is missing, then applies environment overrides.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{Timeout: defaultTimeout, LogLevel: slog.LevelInfo}

	raw, err := readFile(resolved)
	if err != nil {
		return Config{}, err
	}

	if raw != nil {
		if err := cfg.apply(*raw); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func readFile(path string) (*rawConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &raw, nil
}

func (c *Config) apply(raw rawConfig) error {
	c.Site = strings.TrimSpace(raw.Site)
	c.Email = strings.TrimSpace(raw.Email)
	c.APIKey = strings.TrimSpace(raw.APIKey)
	c.Password = raw.Password
	c.UserAgent = strings.TrimSpace(raw.UserAgent)

	if timeout := strings.TrimSpace(raw.Timeout); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		if parsed <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		c.Timeout = parsed
	}

	if level := strings.TrimSpace(raw.LogLevel); level != "" {
		if err := c.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
	}

	if raw.RateLimit.RequestsPerMinute < 0 || raw.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	c.RequestsPerMinute = raw.RateLimit.RequestsPerMinute
	c.Burst = raw.RateLimit.Burst

	return nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	override(&c.Site, EnvSite)
	override(&c.Email, EnvEmail)
	override(&c.APIKey, EnvAPIKey)
	override(&c.Password, EnvPassword)
}

// Validate reports whether the config can build a client.
func (c Config) Validate() error {
	if c.Site == "" {
		return fmt.Errorf("site is required (set it in the config file or %s)", EnvSite)
	}
	if (c.APIKey != "" || c.Password != "") && c.Email == "" {
		return fmt.Errorf("email is required with an API key or password (set %s)", EnvEmail)
	}
	if c.Email != "" && !validation.IsValidEmail(c.Email) {
		return fmt.Errorf("email %q is not an account address", c.Email)
	}
	return nil
}

// ClientConfig converts c into a client configuration.
func (c Config) ClientConfig(logger *slog.Logger) *gzaw.Config {
	cfg := &gzaw.Config{
		Site:       c.Site,
		Email:      c.Email,
		APIKey:     c.APIKey,
		Password:   c.Password,
		UserAgent:  c.UserAgent,
		HTTPClient: &http.Client{Timeout: c.Timeout},
		Logger:     logger,
	}
	if c.RequestsPerMinute > 0 {
		cfg.RateLimit = &gzaw.RateLimitConfig{RequestsPerMinute: c.RequestsPerMinute, Burst: c.Burst}
	}
	return cfg
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
