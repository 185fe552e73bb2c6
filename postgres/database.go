package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-postgres/v2/postgres/log"
	"github.com/bxcodec/dbresolver/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Topology tags how the read path relates to the write path.
type Topology string

const (
	// TopologyShared means no distinct read target was configured: Reader and
	// Writer return the same pool and exactly one connection set exists.
	TopologyShared Topology = "shared"

	// TopologyDistinct means a separate read target was configured: Reader
	// and Writer return independent pools with independent connection sets.
	TopologyDistinct Topology = "distinct"
)

// Metric outcome values recorded per initialization attempt.
const (
	initOutcomeSuccess = "success"
	initOutcomeFailure = "failure"
)

// Database owns one writer pool and one reader pool. Under TopologyShared the
// reader field aliases the writer pool, so there is exactly one underlying
// connection set referenced by both accessors.
//
// The pools and topology are immutable after New returns; a Database is safe
// for unlimited concurrent readers.
type Database struct {
	cfg      Config
	url      string
	writer   *pgxpool.Pool
	reader   *pgxpool.Pool
	topology Topology
	stats    *poolStats

	mu       sync.RWMutex
	closed   bool
	resolver dbresolver.DB
	writerDB *sql.DB
	readerDB *sql.DB
}

// New builds a Database from cfg. The writer pool is always created from
// cfg.WriterURL. A second, independent reader pool is created only when
// cfg.ReaderURL is set and differs from the writer URL; otherwise the reader
// aliases the writer pool and no second connection set exists.
//
// Each call returns a fresh, caller-owned Database with no shared state. Use
// a Slot (or the package-level Init) when the process should build exactly
// one Database across concurrent callers.
func New(ctx context.Context, cfg Config) (*Database, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	start := time.Now()

	cfg.Logger.Log(ctx, log.LevelInfo, "connecting to database pools")

	writer, err := newPool(ctx, cfg.WriterURL, cfg, RoleWriter)
	if err != nil {
		recordInitOutcome(ctx, cfg, initOutcomeFailure, time.Since(start))
		log.SafeError(cfg.Logger, ctx, "failed to create writer pool", err, false)

		return nil, err
	}

	reader := writer
	topology := TopologyShared

	if cfg.ReaderURL != "" && cfg.ReaderURL != cfg.WriterURL {
		reader, err = newPool(ctx, cfg.ReaderURL, cfg, RoleReader)
		if err != nil {
			writer.Close()
			recordInitOutcome(ctx, cfg, initOutcomeFailure, time.Since(start))
			log.SafeError(cfg.Logger, ctx, "failed to create reader pool", err, false)

			return nil, err
		}

		topology = TopologyDistinct
	}

	db := &Database{
		cfg:      cfg,
		url:      cfg.WriterURL,
		writer:   writer,
		reader:   reader,
		topology: topology,
	}

	db.stats = registerPoolStats(ctx, db, cfg.MetricsFactory, cfg.Logger)
	recordInitOutcome(ctx, cfg, initOutcomeSuccess, time.Since(start))

	cfg.Logger.Log(ctx, log.LevelInfo, "database connected",
		log.String("topology", string(topology)),
		log.Duration("elapsed", time.Since(start)),
	)

	return db, nil
}

// NewFromEnv resolves a Config from the process environment and builds a
// caller-owned Database from it. It is the non-global counterpart of Init.
func NewFromEnv(ctx context.Context) (*Database, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	return New(ctx, cfg)
}

// Writer returns the pool serving the write path. It is a pure read of
// already-constructed state and never fails; on a nil receiver it returns nil.
func (d *Database) Writer() *pgxpool.Pool {
	if d == nil {
		return nil
	}

	return d.writer
}

// Reader returns the pool serving the read path. Under TopologyShared this is
// the same pool returned by Writer.
func (d *Database) Reader() *pgxpool.Pool {
	if d == nil {
		return nil
	}

	return d.reader
}

// URL returns the resolved writer URL, byte-for-byte as it was configured.
// It identifies the write target even when a distinct read target exists.
func (d *Database) URL() string {
	if d == nil {
		return ""
	}

	return d.url
}

// Topology reports whether the reader aliases the writer pool (TopologyShared)
// or is an independent pool (TopologyDistinct).
func (d *Database) Topology() Topology {
	if d == nil {
		return ""
	}

	return d.topology
}

// Stats is a point-in-time snapshot of pool statistics by role. Under
// TopologyShared both fields report the same underlying pool.
type Stats struct {
	Writer *pgxpool.Stat
	Reader *pgxpool.Stat
}

// Stat snapshots both pools.
func (d *Database) Stat() Stats {
	if d == nil {
		return Stats{}
	}

	return Stats{
		Writer: d.writer.Stat(),
		Reader: d.reader.Stat(),
	}
}

// Ping verifies liveness of the writer pool and, when the topology is
// distinct, the reader pool as well.
func (d *Database) Ping(ctx context.Context) error {
	if d == nil {
		return ErrNilDatabase
	}

	if ctx == nil {
		return ErrNilContext
	}

	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()

	if closed {
		return ErrClosed
	}

	if err := pingPoolFn(ctx, d.writer); err != nil {
		return fmt.Errorf("ping %s pool: %w", RoleWriter, err)
	}

	if d.topology == TopologyDistinct {
		if err := pingPoolFn(ctx, d.reader); err != nil {
			return fmt.Errorf("ping %s pool: %w", RoleReader, err)
		}
	}

	return nil
}

// IsConnected reports whether both pools currently answer a ping.
func (d *Database) IsConnected(ctx context.Context) bool {
	return d.Ping(ctx) == nil
}

// Close releases all resources held by the Database: the resolver handle when
// one was built, the metrics registration, and the pools. Under TopologyShared
// the single underlying pool is closed exactly once. Close is idempotent.
func (d *Database) Close() error {
	if d == nil {
		return ErrNilDatabase
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	d.closed = true

	var resolverErr error

	if d.resolver != nil {
		if err := d.resolver.Close(); err != nil {
			resolverErr = fmt.Errorf("close resolver: %w", err)
		}

		d.resolver = nil
		d.writerDB = nil
		d.readerDB = nil
	}

	d.stats.unregister()

	if d.topology == TopologyDistinct {
		d.reader.Close()
	}

	d.writer.Close()

	d.logAtLevel(context.Background(), log.LevelInfo, "database closed",
		log.String("topology", string(d.topology)))

	return resolverErr
}

// logAtLevel logs through the configured logger, tolerating nil receivers and
// nil loggers so logging can never panic a connection path.
func (d *Database) logAtLevel(ctx context.Context, level log.Level, msg string, fields ...log.Field) {
	if d == nil || d.cfg.Logger == nil {
		return
	}

	d.cfg.Logger.Log(ctx, level, msg, fields...)
}

// recordInitOutcome records one initialization attempt when a metrics factory
// is configured.
func recordInitOutcome(ctx context.Context, cfg Config, outcome string, elapsed time.Duration) {
	if cfg.MetricsFactory == nil {
		return
	}

	cfg.MetricsFactory.RecordInitAttempt(ctx, outcome, elapsed)
}
