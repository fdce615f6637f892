// Package config loads and validates card service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Renderer  RendererConfig  `mapstructure:"renderer"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	TMDB      TMDBConfig      `mapstructure:"tmdb"`
	History   HistoryConfig   `mapstructure:"history"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RateLimitConfig bounds the expensive request paths per client.
type RateLimitConfig struct {
	RequestsPerWindow int `mapstructure:"requests_per_window"`
	WindowSeconds     int `mapstructure:"window_seconds"`
}

// CacheConfig sizes the metadata and image caches.
type CacheConfig struct {
	SessionTTLMinutes int `mapstructure:"session_ttl_minutes"`
	SessionCapacity   int `mapstructure:"session_capacity"`
	ImageTTLMinutes   int `mapstructure:"image_ttl_minutes"`
	ImageCapacity     int `mapstructure:"image_capacity"`
	SweepIntervalSecs int `mapstructure:"sweep_interval_seconds"`
}

// RendererConfig governs the headless rendering subsystem.
type RendererConfig struct {
	PoolSize       int `mapstructure:"pool_size"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	SettleMs       int `mapstructure:"settle_ms"`
}

// ExtractorConfig configures review page and image fetching.
type ExtractorConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RetryDelayMs   int     `mapstructure:"retry_delay_ms"`
	ImageQPS       float64 `mapstructure:"image_qps"`
}

// TMDBConfig holds credentials for the poster lookup. An empty API key
// disables the lookup entirely.
type TMDBConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// HistoryConfig selects the render history backend.
type HistoryConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CARDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("rate_limit.requests_per_window", 10)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("cache.session_ttl_minutes", 30)
	v.SetDefault("cache.session_capacity", 500)
	v.SetDefault("cache.image_ttl_minutes", 60)
	v.SetDefault("cache.image_capacity", 50)
	v.SetDefault("cache.sweep_interval_seconds", 60)
	v.SetDefault("renderer.pool_size", 5)
	v.SetDefault("renderer.timeout_seconds", 30)
	v.SetDefault("renderer.settle_ms", 400)
	v.SetDefault("extractor.user_agent", "review-card-bot/0.1")
	v.SetDefault("extractor.timeout_seconds", 15)
	v.SetDefault("extractor.max_retries", 2)
	v.SetDefault("extractor.retry_delay_ms", 500)
	v.SetDefault("extractor.image_qps", 4)
	v.SetDefault("tmdb.base_url", "https://api.themoviedb.org")
	v.SetDefault("history.provider", "noop")
	v.SetDefault("history.table", "renders")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit values must be > 0")
	}
	if c.Cache.SessionCapacity <= 0 || c.Cache.ImageCapacity <= 0 {
		return fmt.Errorf("cache capacities must be > 0")
	}
	if c.Cache.SessionTTLMinutes <= 0 || c.Cache.ImageTTLMinutes <= 0 {
		return fmt.Errorf("cache TTLs must be > 0")
	}
	if c.Renderer.PoolSize <= 0 {
		return fmt.Errorf("renderer.pool_size must be > 0")
	}
	if c.Renderer.TimeoutSeconds <= 0 {
		return fmt.Errorf("renderer.timeout_seconds must be > 0")
	}
	if c.Extractor.TimeoutSeconds <= 0 {
		return fmt.Errorf("extractor.timeout_seconds must be > 0")
	}
	if c.History.Provider != "noop" && c.History.Provider != "postgres" {
		return fmt.Errorf("unknown history provider %q", c.History.Provider)
	}
	if c.History.Provider == "postgres" && c.History.DSN == "" {
		return fmt.Errorf("history.provider is 'postgres' but history.dsn is not set")
	}
	return nil
}

// SessionTTL returns the metadata cache TTL as a duration.
func (c CacheConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// ImageTTL returns the image cache TTL as a duration.
func (c CacheConfig) ImageTTL() time.Duration {
	return time.Duration(c.ImageTTLMinutes) * time.Minute
}

// SweepInterval returns the periodic purge interval as a duration.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

// Timeout returns the render deadline as a duration.
func (c RendererConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Settle returns the post-load font settling delay as a duration.
func (c RendererConfig) Settle() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}

// Timeout returns the page fetch deadline as a duration.
func (c ExtractorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay returns the constant inter-retry delay as a duration.
func (c ExtractorConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// Window returns the rate limit window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}
