// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/product-gateway/config.toml",
	"configs/config.toml",
}

// Deployment modes. The mode is resolved once at startup and controls CORS
// strictness, the default rate-limit profile and error verbosity.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Rate-limit profiles.
const (
	ProfilePermissive = "permissive"
	ProfileStrict     = "strict"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamURL string `kong:"help='Upstream base URL (overrides config).',env='BACKEND_URL'"`
	Mode        string `kong:"help='Deployment mode: development|production (overrides config).',env='GATEWAY_MODE'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration. It is resolved once at
// startup and passed to each component; nothing re-reads the environment per
// request.
type Config struct {
	Mode     string         `toml:"mode"`
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	CORS     CORSConfig     `toml:"cors"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (5921); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-client fixed-window request limiting.
// Zero WindowSeconds/MaxRequests take the selected profile's values.
type RateLimitConfig struct {
	Enabled       bool   `toml:"enabled"`
	Profile       string `toml:"profile"`
	WindowSeconds int    `toml:"window_seconds"`
	MaxRequests   int    `toml:"max_requests"`
}

// Window returns the effective window duration.
func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// CORSConfig controls cross-origin response policy.
// Relaxed mode allows any origin and is only valid in development.
type CORSConfig struct {
	Relaxed        bool     `toml:"relaxed"`
	AllowedOrigins []string `toml:"allowed_origins"`
	AllowedMethods []string `toml:"allowed_methods"`
	AllowedHeaders []string `toml:"allowed_headers"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL              string `toml:"base_url"`
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	HealthTimeoutSeconds int    `toml:"health_timeout_seconds"`
	IdleConnections      int    `toml:"idle_connections"`
	ResponseMaxBytes     int64  `toml:"response_max_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/product-gateway/config.toml then configs/config.toml. A missing config
// file is not an error: the gateway runs on defaults plus CLI overrides.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamURL != "" {
		c.Upstream.BaseURL = cli.UpstreamURL
	}
	if cli.Mode != "" {
		c.Mode = cli.Mode
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("mode must be %q or %q; got %q", ModeDevelopment, ModeProduction, c.Mode)
	}

	// Upstream URL: required, http or https.
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url must use http or https; got %q", c.Upstream.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url has no host; got %q", c.Upstream.BaseURL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.HealthTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.health_timeout_seconds must be non-negative; got %d", c.Upstream.HealthTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.ResponseMaxBytes < 0 {
		return fmt.Errorf("upstream.response_max_bytes must be non-negative; got %d", c.Upstream.ResponseMaxBytes)
	}

	// Rate limit.
	switch c.Server.RateLimit.Profile {
	case ProfilePermissive, ProfileStrict:
	default:
		return fmt.Errorf("server.rate_limit.profile must be %q or %q; got %q",
			ProfilePermissive, ProfileStrict, c.Server.RateLimit.Profile)
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("server.rate_limit.window_seconds must be > 0 when rate limiting is enabled; got %d",
				c.Server.RateLimit.WindowSeconds)
		}
		if c.Server.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("server.rate_limit.max_requests must be > 0 when rate limiting is enabled; got %d",
				c.Server.RateLimit.MaxRequests)
		}
	}

	// CORS: allow-all responses are confined to development deployments.
	if c.CORS.Relaxed && c.Mode == ModeProduction {
		return fmt.Errorf("cors.relaxed is not allowed in production; set cors.allowed_origins instead")
	}
	if !c.CORS.Relaxed && len(c.CORS.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins is required unless cors.relaxed is set")
	}
	for _, o := range c.CORS.AllowedOrigins {
		if o == "*" && c.Mode == ModeProduction {
			return fmt.Errorf("cors.allowed_origins must not contain %q in production", "*")
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api", "/health"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (5921).
func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDevelopment
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5921
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MiB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "http://localhost:3847"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.HealthTimeoutSeconds == 0 {
		c.Upstream.HealthTimeoutSeconds = 5
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.ResponseMaxBytes == 0 {
		c.Upstream.ResponseMaxBytes = 50 * 1024 * 1024 // 50 MiB
	}
	if c.Server.RateLimit.Profile == "" {
		if c.Mode == ModeProduction {
			c.Server.RateLimit.Profile = ProfileStrict
		} else {
			c.Server.RateLimit.Profile = ProfilePermissive
		}
	}
	if c.Server.RateLimit.WindowSeconds == 0 {
		if c.Server.RateLimit.Profile == ProfileStrict {
			c.Server.RateLimit.WindowSeconds = 900
		} else {
			c.Server.RateLimit.WindowSeconds = 60
		}
	}
	if c.Server.RateLimit.MaxRequests == 0 {
		if c.Server.RateLimit.Profile == ProfileStrict {
			c.Server.RateLimit.MaxRequests = 100
		} else {
			c.Server.RateLimit.MaxRequests = 1000
		}
	}
	if c.Mode == ModeDevelopment && len(c.CORS.AllowedOrigins) == 0 {
		// Development deployments work out of the box; production requires
		// an explicit allowlist.
		c.CORS.Relaxed = true
	}
	if c.CORS.Relaxed && len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Authorization", "Content-Type"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// IsProduction reports whether the gateway runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Mode == ModeProduction
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
