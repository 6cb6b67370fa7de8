// Package config loads application configuration with viper.
//
// Precedence, lowest first: built-in defaults, an optional config.yaml
// (searched in ., ./config and /etc/chatrelay), then environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinSecretLength mirrors the signing-secret minimum enforced by the token service.
const MinSecretLength = 16

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Session  SessionConfig  `mapstructure:"session"`
	LLM      LLMConfig      `mapstructure:"llm"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// SecureCookies marks cookies Secure; turn on when served over HTTPS.
	SecureCookies bool `mapstructure:"secure_cookies"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects the user store. URL is either a SQLite file path
// (or ":memory:") or a postgres:// connection URL.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// IsPostgres reports whether URL names a PostgreSQL server.
func (c DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(c.URL, "postgres://") || strings.HasPrefix(c.URL, "postgresql://")
}

// RedisConfig enables the Redis session store when URL is set.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// SessionConfig holds session signing and lifetime settings.
type SessionConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// GitHubConfig enables "Log in with GitHub" when both id and secret are set.
type GitHubConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	CallbackURL  string `mapstructure:"callback_url"`
}

// Enabled reports whether GitHub sign-in is configured.
func (c GitHubConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// SlogLevel parses Level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	return level, nil
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string][]string{
	"server.host":             {"HOST"},
	"server.port":             {"PORT"},
	"server.secure_cookies":   {"SECURE_COOKIES"},
	"server.shutdown_timeout": {"SHUTDOWN_TIMEOUT"},
	"database.url":            {"DATABASE_URL"},
	"redis.url":               {"REDIS_URL"},
	"session.secret":          {"SESSION_SECRET"},
	"session.ttl":             {"SESSION_TTL"},
	"llm.api_key":             {"OPENAI_API_KEY"},
	"llm.model":               {"OPENAI_MODEL"},
	"llm.base_url":            {"OPENAI_BASE_URL"},
	"llm.timeout":             {"LLM_TIMEOUT"},
	"llm.system_prompt":       {"LLM_SYSTEM_PROMPT"},
	"llm.retry_attempts":      {"LLM_RETRY_ATTEMPTS"},
	"llm.retry_base_delay":    {"LLM_RETRY_BASE_DELAY"},
	"github.client_id":        {"GITHUB_CLIENT_ID"},
	"github.client_secret":    {"GITHUB_CLIENT_SECRET"},
	"github.callback_url":     {"GITHUB_CALLBACK_URL"},
	"log.level":               {"LOG_LEVEL"},
	"log.format":              {"LOG_FORMAT"},
}

// Load reads configuration. configFile, when non-empty, names an explicit
// file to read instead of searching the default locations; a missing
// explicit file is an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/chatrelay")
	}

	setDefaults(v)

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: defaults and environment only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Server.Port)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", "15s")
	// Longer than llm.timeout so a slow reply is not cut off mid-write.
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.secure_cookies", false)

	v.SetDefault("database.url", "data/chatrelay.db")
	v.SetDefault("redis.url", "")

	v.SetDefault("session.ttl", "24h")

	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.retry_attempts", 3)
	v.SetDefault("llm.retry_base_delay", "500ms")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate reports every problem at once so a misconfigured deploy fails
// with the full list.
func (c *Config) Validate() error {
	var errs []error

	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if len(c.Session.Secret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d characters", MinSecretLength))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if (c.GitHub.ClientID == "") != (c.GitHub.ClientSecret == "") {
		errs = append(errs, errors.New("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q (want text or json)", c.Log.Format))
	}

	return errors.Join(errs...)
}
