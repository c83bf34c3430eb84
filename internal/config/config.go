// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Session    SessionConfig    `mapstructure:"session"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Events     EventsConfig     `mapstructure:"events"`
	Expedition ExpeditionConfig `mapstructure:"expedition"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Whitelist  WhitelistConfig  `mapstructure:"whitelist"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Log        LogConfig        `mapstructure:"log"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token       string        `mapstructure:"token"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// BackendConfig points at the game backend.
type BackendConfig struct {
	// Mode is "http" for the REST backend or "memory" for a local sandbox.
	Mode    string        `mapstructure:"mode"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig holds wizard session settings.
type SessionConfig struct {
	// Store is "memory" or "postgres".
	Store       string        `mapstructure:"store"`
	TTL         time.Duration `mapstructure:"ttl"`
	FormTimeout time.Duration `mapstructure:"form_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// EventsConfig holds lifecycle event publishing settings. Events are only
// logged when Brokers is empty.
type EventsConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ExpeditionConfig holds lifecycle policy.
type ExpeditionConfig struct {
	AllowLateJoin bool `mapstructure:"allow_late_join"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// RateLimitConfig bounds interactions per user.
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. BOT_TOKEN, BACKEND_BASE_URL, SESSION_TTL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.poll_timeout", "10s")

	v.SetDefault("backend.mode", "http")
	v.SetDefault("backend.base_url", "http://localhost:3000")
	v.SetDefault("backend.timeout", "10s")

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("session.form_timeout", "60s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "expedition")
	v.SetDefault("database.name", "expedition")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("events.topic", "expedition-events")

	v.SetDefault("expedition.allow_late_join", false)

	v.SetDefault("ratelimit.per_second", 2)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

// Validate checks values the application cannot start without.
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case "http":
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend.base_url is required in http mode")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown backend.mode %q", c.Backend.Mode)
	}
	switch c.Session.Store {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown session.store %q", c.Session.Store)
	}
	if c.Session.TTL <= 0 || c.Session.FormTimeout <= 0 {
		return fmt.Errorf("session.ttl and session.form_timeout must be positive")
	}
	return nil
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
