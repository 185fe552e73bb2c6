package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/LerianStudio/lib-postgres/v2/postgres/log"
	"github.com/LerianStudio/lib-postgres/v2/postgres/opentelemetry/metrics"
)

// Environment variables consumed by ConfigFromEnv.
const (
	// EnvDatabaseWriteURL takes precedence over EnvDatabaseURL for the writer
	// target.
	EnvDatabaseWriteURL = "DATABASE_WRITE_URL"

	// EnvDatabaseURL is the writer fallback, consulted only when
	// EnvDatabaseWriteURL is unset.
	EnvDatabaseURL = "DATABASE_URL"

	// EnvDatabaseReadURL optionally names a distinct read target. When unset,
	// reads share the writer pool.
	EnvDatabaseReadURL = "DATABASE_READ_URL"

	EnvMaxOpenConns    = "DATABASE_MAX_OPEN_CONNS"
	EnvMaxIdleConns    = "DATABASE_MAX_IDLE_CONNS"
	EnvConnMaxLifetime = "DATABASE_CONN_MAX_LIFETIME"
	EnvConnMaxIdleTime = "DATABASE_CONN_MAX_IDLE_TIME"
	EnvConnectTimeout  = "DATABASE_CONNECT_TIMEOUT"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 0
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
	defaultConnectTimeout  = 10 * time.Second
	defaultPingTimeout     = 5 * time.Second
)

// Config holds everything needed to build a Database. The URL fields carry
// opaque connection strings; syntax is validated by the driver when the pool
// is created, not here.
type Config struct {
	// WriterURL is the write-path target. Required.
	WriterURL string

	// ReaderURL is the read-path target. Optional; when blank or byte-equal
	// to WriterURL the reader aliases the writer pool.
	ReaderURL string

	// MaxOpenConnections caps each pool's connection count. Defaults to 25.
	MaxOpenConnections int

	// MaxIdleConnections is the number of warm connections each pool keeps.
	// Defaults to 0, which means pools connect lazily on first use.
	MaxIdleConnections int

	// ConnMaxLifetime bounds how long a connection may be reused. Defaults to 30m.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime bounds how long a connection may sit idle. Defaults to 5m.
	ConnMaxIdleTime time.Duration

	// ConnectTimeout bounds each connection dial. Defaults to 10s.
	ConnectTimeout time.Duration

	// PingTimeout bounds the reachability check performed once per pool at
	// creation. Defaults to 5s.
	PingTimeout time.Duration

	// HealthCheckPeriod is the pool's background health check interval.
	// Zero keeps the driver default.
	HealthCheckPeriod time.Duration

	Logger         log.Logger
	MetricsFactory *metrics.MetricsFactory
}

// ConfigFromEnv resolves a Config from the process environment.
//
// The writer target is DATABASE_WRITE_URL when set, else DATABASE_URL, else
// the resolution fails wrapping ErrMissingWriterURL. DATABASE_READ_URL is
// consulted for the reader target with no fallback: absent means reads share
// the writer pool. A variable counts as set when it is non-blank after
// trimming whitespace.
func ConfigFromEnv() (Config, error) {
	writerURL := strings.TrimSpace(getenvOrDefault(EnvDatabaseWriteURL, ""))
	if writerURL == "" {
		writerURL = strings.TrimSpace(getenvOrDefault(EnvDatabaseURL, ""))
	}

	if writerURL == "" {
		return Config{}, fmt.Errorf("%s or %s must be set: %w", EnvDatabaseWriteURL, EnvDatabaseURL, ErrMissingWriterURL)
	}

	return Config{
		WriterURL:          writerURL,
		ReaderURL:          strings.TrimSpace(getenvOrDefault(EnvDatabaseReadURL, "")),
		MaxOpenConnections: int(getenvIntOrDefault(EnvMaxOpenConns, defaultMaxOpenConns)),
		MaxIdleConnections: int(getenvIntOrDefault(EnvMaxIdleConns, defaultMaxIdleConns)),
		ConnMaxLifetime:    getenvDurationOrDefault(EnvConnMaxLifetime, defaultConnMaxLifetime),
		ConnMaxIdleTime:    getenvDurationOrDefault(EnvConnMaxIdleTime, defaultConnMaxIdleTime),
		ConnectTimeout:     getenvDurationOrDefault(EnvConnectTimeout, defaultConnectTimeout),
	}, nil
}

// validate rejects configs that can never produce a working pool.
func (c Config) validate() error {
	if strings.TrimSpace(c.WriterURL) == "" {
		return fmt.Errorf("writer URL is required: %w", ErrInvalidConfig)
	}

	if c.MaxOpenConnections < 0 {
		return fmt.Errorf("MaxOpenConnections cannot be negative: %w", ErrInvalidConfig)
	}

	if c.MaxIdleConnections < 0 {
		return fmt.Errorf("MaxIdleConnections cannot be negative: %w", ErrInvalidConfig)
	}

	if c.MaxIdleConnections > 0 && c.MaxOpenConnections > 0 && c.MaxIdleConnections > c.MaxOpenConnections {
		return fmt.Errorf("MaxIdleConnections exceeds MaxOpenConnections: %w", ErrInvalidConfig)
	}

	return nil
}

// withDefaults returns a copy with zero-value fields replaced by sane
// defaults. URL fields are normalized by trimming surrounding whitespace.
func (c Config) withDefaults() Config {
	c.WriterURL = strings.TrimSpace(c.WriterURL)
	c.ReaderURL = strings.TrimSpace(c.ReaderURL)

	if c.Logger == nil {
		c.Logger = log.NewNop()
	}

	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = defaultMaxOpenConns
	}

	if c.MaxIdleConnections < 0 {
		c.MaxIdleConnections = defaultMaxIdleConns
	}

	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}

	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = defaultConnMaxIdleTime
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}

	if c.PingTimeout <= 0 {
		c.PingTimeout = defaultPingTimeout
	}

	return c
}
