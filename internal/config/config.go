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
	"/etc/sportstream-relay/config.toml",
	"configs/config.toml",
}

// reservedRoutes are route prefixes the metrics endpoint may not shadow.
var reservedRoutes = []string{"/api", "/proxy-stream", "/healthz", "/status"}

// DefaultUserAgent is sent upstream when neither the client nor the config supplies one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Referer derivation modes for forged upstream headers.
const (
	RefererBase   = "base"
	RefererOrigin = "origin"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	SportsUser   string `kong:"help='Sports data API user (overrides config).',env='THE_SPORTS_API_USER'"`
	SportsSecret string `kong:"help='Sports data API secret (overrides config).',env='THE_SPORTS_API_SECRET'"`
	AdminToken   string `kong:"help='Bearer token for the admin API (overrides config).',env='ADMIN_TOKEN'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Sports   SportsConfig   `toml:"sports"`
	Admin    AdminConfig    `toml:"admin"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string          `toml:"host"`
	Port           int             `toml:"port"` // 0 means "use default" (7000)
	BodyMaxBytes   int64           `toml:"body_max_bytes"`
	PublicURL      string          `toml:"public_url"`
	AllowedOrigins []string        `toml:"allowed_origins"`
	RateLimit      RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig controls how media is fetched from the stream CDN.
type UpstreamConfig struct {
	TimeoutSeconds   int               `toml:"timeout_seconds"`
	IdleConnections  int               `toml:"idle_connections"`
	UserAgent        string            `toml:"user_agent"`
	RefererMode      string            `toml:"referer_mode"`
	MaxPlaylistBytes int64             `toml:"max_playlist_bytes"`
	ChunkBytes       int               `toml:"chunk_bytes"`
	Headers          map[string]string `toml:"headers"`
}

// Timeout returns the upstream timeout as a duration.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// SportsConfig holds the sports data API credentials and caching policy.
type SportsConfig struct {
	BaseURL         string `toml:"base_url"`
	User            string `toml:"user"`
	Secret          string `toml:"secret"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
	RetryAttempts   uint   `toml:"retry_attempts"`
}

// AdminConfig holds admin API credentials. PasswordHash is a bcrypt hash.
type AdminConfig struct {
	Username     string `toml:"username"`
	PasswordHash string `toml:"password_hash"`
	Token        string `toml:"token"`
}

// DatabaseConfig holds the sqlite match store location.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LogConfig holds logging settings. File enables a rotating log file.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/sportstream-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
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
	if cli.SportsUser != "" {
		c.Sports.User = cli.SportsUser
	}
	if cli.SportsSecret != "" {
		c.Sports.Secret = cli.SportsSecret
	}
	if cli.AdminToken != "" {
		c.Admin.Token = cli.AdminToken
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Server.PublicURL != "" {
		u, err := url.Parse(c.Server.PublicURL)
		if err != nil {
			return fmt.Errorf("server.public_url is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.public_url must be an absolute http(s) URL; got %q", c.Server.PublicURL)
		}
	}

	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxPlaylistBytes < 0 {
		return fmt.Errorf("upstream.max_playlist_bytes must be non-negative; got %d", c.Upstream.MaxPlaylistBytes)
	}
	if c.Upstream.ChunkBytes < 0 {
		return fmt.Errorf("upstream.chunk_bytes must be non-negative; got %d", c.Upstream.ChunkBytes)
	}
	switch strings.ToLower(c.Upstream.RefererMode) {
	case RefererBase, RefererOrigin, "":
	default:
		return fmt.Errorf("upstream.referer_mode must be one of: base, origin; got %q", c.Upstream.RefererMode)
	}

	if c.Sports.BaseURL != "" {
		u, err := url.Parse(c.Sports.BaseURL)
		if err != nil {
			return fmt.Errorf("sports.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("sports.base_url must use HTTPS; got %q", c.Sports.BaseURL)
		}
	}
	if c.Sports.TimeoutSeconds < 0 {
		return fmt.Errorf("sports.timeout_seconds must be non-negative; got %d", c.Sports.TimeoutSeconds)
	}
	if c.Sports.CacheTTLSeconds < 0 {
		return fmt.Errorf("sports.cache_ttl_seconds must be non-negative; got %d", c.Sports.CacheTTLSeconds)
	}

	if c.Admin.Token != "" && (c.Admin.Username == "" || c.Admin.PasswordHash == "") {
		return fmt.Errorf("admin.username and admin.password_hash are required when admin.token is set")
	}
	if c.Admin.PasswordHash != "" && !strings.HasPrefix(c.Admin.PasswordHash, "$2") {
		return fmt.Errorf("admin.password_hash must be a bcrypt hash")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 7000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 // JSON bodies only
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")

	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}
	if c.Upstream.RefererMode == "" {
		c.Upstream.RefererMode = RefererBase
	}
	c.Upstream.RefererMode = strings.ToLower(c.Upstream.RefererMode)
	if c.Upstream.MaxPlaylistBytes == 0 {
		c.Upstream.MaxPlaylistBytes = 5 * 1024 * 1024
	}
	if c.Upstream.ChunkBytes == 0 {
		c.Upstream.ChunkBytes = 32 * 1024
	}

	if c.Sports.BaseURL == "" {
		c.Sports.BaseURL = "https://api.thesports.com"
	}
	c.Sports.BaseURL = strings.TrimRight(c.Sports.BaseURL, "/")
	if c.Sports.TimeoutSeconds == 0 {
		c.Sports.TimeoutSeconds = 30
	}
	if c.Sports.CacheTTLSeconds == 0 {
		c.Sports.CacheTTLSeconds = 60
	}
	if c.Sports.RetryAttempts == 0 {
		c.Sports.RetryAttempts = 3
	}

	if c.Database.Path == "" {
		c.Database.Path = "data/sportstream.db"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
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
// The file may carry the sports API secret and the admin token.
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
