package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/LerianStudio/lib-postgres/v2/postgres/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Package-level pool hooks, replaceable in tests.
var (
	parsePoolConfigFn = pgxpool.ParseConfig

	newPoolFn = pgxpool.NewWithConfig

	pingPoolFn = func(ctx context.Context, pool *pgxpool.Pool) error {
		return pool.Ping(ctx)
	}
)

// newPool builds one pgxpool.Pool for the given role: parse the URL, apply the
// Config bounds and timeouts, create the pool, then verify reachability with a
// single ping bounded by Config.PingTimeout. Individual connections are still
// opened on demand; the ping only proves the target is usable.
//
// Every failure is reduced to a role-tagged, credential-sanitized *PoolError.
func newPool(ctx context.Context, url string, cfg Config, role Role) (*pgxpool.Pool, error) {
	poolCfg, err := buildPoolConfig(url, cfg)
	if err != nil {
		return nil, newPoolError(role, err)
	}

	warnInsecureDSN(ctx, cfg.Logger, url, role)

	pool, err := newPoolFn(ctx, poolCfg)
	if err != nil {
		return nil, newPoolError(role, err)
	}

	if err := verifyPoolConnection(ctx, pool, cfg.PingTimeout); err != nil {
		return nil, newPoolError(role, err)
	}

	if cfg.Logger != nil {
		cfg.Logger.Log(ctx, log.LevelDebug, "database pool created",
			log.String("role", string(role)),
			log.String("host", poolCfg.ConnConfig.Host),
			log.String("database", poolCfg.ConnConfig.Database),
			log.Int32("max_conns", poolCfg.MaxConns),
			log.Int32("min_conns", poolCfg.MinConns),
		)
	}

	return pool, nil
}

// buildPoolConfig parses the connection URL and maps Config onto the pgxpool
// options. A malformed URL fails here, before any network activity.
func buildPoolConfig(url string, cfg Config) (*pgxpool.Config, error) {
	poolCfg, err := parsePoolConfigFn(url)
	if err != nil {
		return nil, fmt.Errorf("parse connection URL: %w", err)
	}

	maxConns, minConns := deriveConnectionBounds(cfg)
	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = minConns

	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	return poolCfg, nil
}

// deriveConnectionBounds maps the Config connection counts onto pgxpool's
// int32 MaxConns/MinConns, clamping MinConns to never exceed MaxConns.
func deriveConnectionBounds(cfg Config) (int32, int32) {
	maxConns := int32(defaultMaxOpenConns)
	if cfg.MaxOpenConnections > 0 {
		maxConns = clampToInt32(cfg.MaxOpenConnections)
	}

	minConns := int32(defaultMaxIdleConns)
	if cfg.MaxIdleConnections > 0 {
		minConns = clampToInt32(cfg.MaxIdleConnections)
	}

	if minConns > maxConns {
		minConns = maxConns
	}

	return maxConns, minConns
}

func clampToInt32(value int) int32 {
	if value > math.MaxInt32 {
		return math.MaxInt32
	}

	return int32(value)
}

// verifyPoolConnection proves the target is reachable with the configured
// credentials. The pool is closed on failure so a half-built pool never leaks.
func verifyPoolConnection(ctx context.Context, pool *pgxpool.Pool, pingTimeout time.Duration) error {
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := pingPoolFn(pingCtx, pool); err != nil {
		pool.Close()

		return fmt.Errorf("ping: %w", err)
	}

	return nil
}
