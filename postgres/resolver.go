package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LerianStudio/lib-postgres/v2/postgres/log"
	"github.com/bxcodec/dbresolver/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Package-level resolver hooks, replaceable in tests.
var (
	openDBFromPoolFn = func(pool *pgxpool.Pool) *sql.DB {
		return stdlib.OpenDBFromPool(pool)
	}

	createResolverFn = func(primaryDB, replicaDB *sql.DB) (_ dbresolver.DB, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("failed to create resolver: %v", recovered)
			}
		}()

		connectionDB := dbresolver.New(
			dbresolver.WithPrimaryDBs(primaryDB),
			dbresolver.WithReplicaDBs(replicaDB),
			dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
		)

		if connectionDB == nil {
			return nil, errors.New("resolver returned nil connection")
		}

		return connectionDB, nil
	}
)

// Resolver returns a database/sql handle that automatically routes writes to
// the writer pool and reads to the reader pool. The handle is built lazily on
// first call and cached; the *sql.DB bridges share the Database's physical
// pools, so no additional connection sets are created.
//
// The returned handle is closed by (*Database).Close.
func (d *Database) Resolver(ctx context.Context) (dbresolver.DB, error) {
	if d == nil {
		return nil, ErrNilDatabase
	}

	if ctx == nil {
		return nil, ErrNilContext
	}

	d.mu.RLock()

	if d.closed {
		d.mu.RUnlock()

		return nil, ErrClosed
	}

	if d.resolver != nil {
		resolver := d.resolver
		d.mu.RUnlock()

		return resolver, nil
	}

	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring the write lock.
	if d.closed {
		return nil, ErrClosed
	}

	if d.resolver != nil {
		return d.resolver, nil
	}

	writerDB := openDBFromPoolFn(d.writer)

	readerDB := writerDB
	if d.topology == TopologyDistinct {
		readerDB = openDBFromPoolFn(d.reader)
	}

	resolver, err := createResolverFn(writerDB, readerDB)
	if err != nil {
		closeBridge(writerDB)

		if readerDB != writerDB {
			closeBridge(readerDB)
		}

		d.logAtLevel(ctx, log.LevelError, "failed to create resolver", log.Err(err))

		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	d.resolver = resolver
	d.writerDB = writerDB
	d.readerDB = readerDB

	d.logAtLevel(ctx, log.LevelDebug, "resolver created",
		log.String("topology", string(d.topology)))

	return resolver, nil
}

// closeBridge closes a pool-backed *sql.DB bridge. Closing the bridge returns
// its connections to the pool; the pool itself stays open.
func closeBridge(db *sql.DB) {
	if db == nil {
		return
	}

	_ = db.Close()
}
