// Package config provides centralized configuration for the csvview binaries.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
//
// All three binaries share one Config; each reads the sections it needs.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	RowService RowServiceConfig
	Store      StoreConfig
	Upload     UploadConfig
	Session    SessionConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds settings for the web front end.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0, exports stream)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for page requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// RenderWait is how long a page request waits for an in-flight fetch
	// before rendering the loading state (default: 2s)
	RenderWait time.Duration `env:"SERVER_RENDER_WAIT" default:"2s"`
}

// RowServiceConfig holds both sides of the row service: the URL the
// front ends call, and the listen settings of cmd/rowservice.
type RowServiceConfig struct {
	// URL is the base URL clients use (default: http://127.0.0.1:5001)
	URL string `env:"ROWSERVICE_URL" default:"http://127.0.0.1:5001"`

	// Timeout bounds a single client request (default: 30s)
	Timeout time.Duration `env:"ROWSERVICE_TIMEOUT" default:"30s"`

	// Host is the interface the service binds to (default: 127.0.0.1)
	Host string `env:"ROWSERVICE_HOST" default:"127.0.0.1"`

	// Port is the port the service listens on (default: 5001)
	Port int `env:"ROWSERVICE_PORT" default:"5001"`

	// PageSize is the number of rows per page (default: 1000)
	PageSize int `env:"ROWSERVICE_PAGE_SIZE" default:"1000"`
}

// StoreConfig holds the row service's database settings.
type StoreConfig struct {
	// Driver selects the backend: sqlite or postgres (default: sqlite)
	Driver string `env:"STORE_DRIVER" default:"sqlite"`

	// URL is the PostgreSQL connection string or SQLite file path.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" default:"csvview.db"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig holds CSV upload processing settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of parallel uploads (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of rows to insert per batch (default: 1000)
	BatchSize int `env:"UPLOAD_BATCH_SIZE" default:"1000"`

	// Timeout is the maximum duration for a single upload operation (default: 10m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"10m"`
}

// SessionConfig holds login session settings.
type SessionConfig struct {
	// TTL is the lifetime of bearer tokens and session cookies (default: 1h)
	TTL time.Duration `env:"SESSION_TTL" default:"1h"`

	// CookieSecure marks the session cookie Secure (default: false)
	CookieSecure bool `env:"SESSION_COOKIE_SECURE" default:"false"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File, when set, receives log output instead of stdout.
	// The terminal client always logs to a file.
	File string `env:"LOG_FILE"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return joinHostPort(c.Host, c.Port)
}

// Addr returns the row service listen address in host:port format.
func (c *RowServiceConfig) Addr() string {
	return joinHostPort(c.Host, c.Port)
}

func joinHostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
