package postgres

import (
	"context"

	"github.com/LerianStudio/lib-postgres/v2/postgres/log"
	"github.com/LerianStudio/lib-postgres/v2/postgres/opentelemetry/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// poolStats holds the callback registration feeding pool gauges for one
// Database. A nil *poolStats is valid and means metrics are disabled.
type poolStats struct {
	registration metric.Registration
}

// registerPoolStats wires observable instruments over pgxpool.Stat snapshots
// for every pool the Database owns, tagged with the pool's role. Instrument or
// registration failures are logged and swallowed: the Database keeps working
// without pool metrics.
func registerPoolStats(ctx context.Context, db *Database, factory *metrics.MetricsFactory, logger log.Logger) *poolStats {
	if factory == nil {
		return nil
	}

	registration, err := newPoolStatsRegistration(db, factory)
	if err != nil {
		if logger != nil {
			logger.Log(ctx, log.LevelWarn, "pool metrics not initialized; continuing without them", log.Err(err))
		}

		return nil
	}

	return &poolStats{registration: registration}
}

func newPoolStatsRegistration(db *Database, factory *metrics.MetricsFactory) (metric.Registration, error) {
	open, err := factory.ObservableGauge(metrics.MetricPoolConnectionsOpen)
	if err != nil {
		return nil, err
	}

	inUse, err := factory.ObservableGauge(metrics.MetricPoolConnectionsInUse)
	if err != nil {
		return nil, err
	}

	idle, err := factory.ObservableGauge(metrics.MetricPoolConnectionsIdle)
	if err != nil {
		return nil, err
	}

	maxConns, err := factory.ObservableGauge(metrics.MetricPoolConnectionsMax)
	if err != nil {
		return nil, err
	}

	acquires, err := factory.ObservableCounter(metrics.MetricPoolAcquires)
	if err != nil {
		return nil, err
	}

	emptyAcquires, err := factory.ObservableCounter(metrics.MetricPoolEmptyAcquires)
	if err != nil {
		return nil, err
	}

	writerAttrs := poolAttributes(db.writer, RoleWriter)
	readerAttrs := poolAttributes(db.reader, RoleReader)

	observePool := func(observer metric.Observer, pool *pgxpool.Pool, attrs metric.MeasurementOption) {
		stat := pool.Stat()

		observer.ObserveInt64(open, int64(stat.TotalConns()), attrs)
		observer.ObserveInt64(inUse, int64(stat.AcquiredConns()), attrs)
		observer.ObserveInt64(idle, int64(stat.IdleConns()), attrs)
		observer.ObserveInt64(maxConns, int64(stat.MaxConns()), attrs)
		observer.ObserveInt64(acquires, stat.AcquireCount(), attrs)
		observer.ObserveInt64(emptyAcquires, stat.EmptyAcquireCount(), attrs)
	}

	// db.writer, db.reader and db.topology are immutable after New, so the
	// callback reads them without synchronization.
	return factory.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		observePool(observer, db.writer, writerAttrs)

		if db.topology == TopologyDistinct {
			observePool(observer, db.reader, readerAttrs)
		}

		return nil
	}, open, inUse, idle, maxConns, acquires, emptyAcquires)
}

// poolAttributes labels one pool's measurements with its role and target.
// Host and database name come from the parsed pool config, never from the raw
// URL, so credentials cannot appear in attribute values.
func poolAttributes(pool *pgxpool.Pool, role Role) metric.MeasurementOption {
	connCfg := pool.Config().ConnConfig

	return metric.WithAttributes(
		attribute.String("role", string(role)),
		attribute.String("host", connCfg.Host),
		attribute.String("database", connCfg.Database),
	)
}

// unregister stops the stats callback. Safe on a nil receiver.
func (p *poolStats) unregister() {
	if p == nil || p.registration == nil {
		return
	}

	_ = p.registration.Unregister()
}
