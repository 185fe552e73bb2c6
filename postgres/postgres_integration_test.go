//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/LerianStudio/lib-postgres/v2/postgres/log"
	"github.com/LerianStudio/lib-postgres/v2/postgres/opentelemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgresContainer starts a disposable PostgreSQL container and returns
// the connection URL plus a teardown function. The container is terminated
// when the returned cleanup function is invoked (typically via t.Cleanup).
func setupPostgresContainer(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return connStr, func() {
		require.NoError(t, container.Terminate(ctx))
	}
}

// newIntegrationConfig points the writer at the container URL. Reader wiring
// is left to each test; most of them exercise the shared topology on purpose.
func newIntegrationConfig(url string) Config {
	return Config{
		WriterURL:      url,
		Logger:         log.NewNop(),
		MetricsFactory: metrics.NewNopFactory(),
	}
}

// ---------------------------------------------------------------------------
// TestIntegration_Postgres_SharedTopology
// ---------------------------------------------------------------------------

func TestIntegration_Postgres_SharedTopology(t *testing.T) {
	url, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	db, err := New(ctx, newIntegrationConfig(url))
	require.NoError(t, err, "New() should succeed with a valid URL")

	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, TopologyShared, db.Topology())
	assert.Same(t, db.Writer(), db.Reader(), "without a reader URL both roles share one pool")
	assert.Equal(t, url, db.URL())

	require.NoError(t, db.Ping(ctx), "Ping should succeed against running container")

	// Verify the pool is usable beyond Ping.
	var result int
	err = db.Writer().QueryRow(ctx, "SELECT 1").Scan(&result)
	require.NoError(t, err, "trivial query should succeed")
	assert.Equal(t, 1, result, "SELECT 1 should return 1")

	stats := db.Stat()
	require.NotNil(t, stats.Writer)
	require.NotNil(t, stats.Reader)
	assert.Equal(t, int32(defaultMaxOpenConns), stats.Writer.MaxConns())
	assert.GreaterOrEqual(t, stats.Writer.TotalConns(), int32(1),
		"at least one connection was opened by the ping and the query")
}

// ---------------------------------------------------------------------------
// TestIntegration_Postgres_DistinctTopology
// ---------------------------------------------------------------------------

func TestIntegration_Postgres_DistinctTopology(t *testing.T) {
	url, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	// Same server, byte-different URL: the reader becomes an independent pool.
	cfg := newIntegrationConfig(url)
	cfg.ReaderURL = url + "&application_name=readonly"

	db, err := New(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, TopologyDistinct, db.Topology())
	assert.NotSame(t, db.Writer(), db.Reader(), "distinct topology keeps independent pools")
	assert.Equal(t, url, db.URL(), "URL() reports the writer URL")

	require.NoError(t, db.Ping(ctx), "both pools must answer a ping")

	// Reader connections carry the reader URL settings.
	var appName string
	err = db.Reader().QueryRow(ctx, "SELECT current_setting('application_name')").Scan(&appName)
	require.NoError(t, err)
	assert.Equal(t, "readonly", appName)

	stats := db.Stat()
	require.NotNil(t, stats.Writer)
	require.NotNil(t, stats.Reader)
}

// ---------------------------------------------------------------------------
// TestIntegration_Postgres_Resolver
// ---------------------------------------------------------------------------

func TestIntegration_Postgres_Resolver(t *testing.T) {
	url, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	cfg := newIntegrationConfig(url)
	cfg.ReaderURL = url + "&application_name=readonly"

	db, err := New(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	resolver, err := db.Resolver(ctx)
	require.NoError(t, err, "Resolver() should bridge both pools")
	require.NotNil(t, resolver)

	require.NoError(t, resolver.PingContext(ctx))

	// Writes route to the primary; reads may hit the replica. Both point at
	// the same server here, so the round trip proves the wiring end to end.
	_, err = resolver.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS resolver_items (id SERIAL PRIMARY KEY, name TEXT NOT NULL)")
	require.NoError(t, err, "DDL through the resolver should reach the primary")

	_, err = resolver.ExecContext(ctx,
		"INSERT INTO resolver_items (name) VALUES ($1)", "via-resolver")
	require.NoError(t, err, "INSERT through the resolver should succeed")

	var name string
	err = resolver.QueryRowContext(ctx,
		"SELECT name FROM resolver_items WHERE name = $1", "via-resolver").Scan(&name)
	require.NoError(t, err, "SELECT through the resolver should succeed")
	assert.Equal(t, "via-resolver", name)

	again, err := db.Resolver(ctx)
	require.NoError(t, err)
	assert.Same(t, resolver, again, "the resolver is built once and cached")
}

// ---------------------------------------------------------------------------
// TestIntegration_Postgres_EnvInitialization
// ---------------------------------------------------------------------------

func TestIntegration_Postgres_EnvInitialization(t *testing.T) {
	url, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	t.Setenv(EnvDatabaseWriteURL, url)
	t.Setenv(EnvDatabaseReadURL, "")
	t.Setenv(EnvMaxOpenConns, "10")

	var slot Slot

	db, err := slot.Init(ctx)
	require.NoError(t, err, "Init should resolve the environment and connect")

	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, StateReady, slot.State())
	assert.Equal(t, TopologyShared, db.Topology())
	assert.Equal(t, int32(10), db.Writer().Config().MaxConns)

	again, err := slot.Init(ctx)
	require.NoError(t, err)
	assert.Same(t, db, again, "repeated Init returns the cached Database")

	writer, err := slot.Writer()
	require.NoError(t, err)
	assert.Same(t, db.Writer(), writer)

	reader, err := slot.Reader()
	require.NoError(t, err)
	assert.Same(t, db.Reader(), reader)

	storedURL, err := slot.URL()
	require.NoError(t, err)
	assert.Equal(t, url, storedURL)

	require.NoError(t, db.Ping(ctx))
}

// ---------------------------------------------------------------------------
// TestIntegration_Postgres_EnvFallbackURL
// ---------------------------------------------------------------------------

func TestIntegration_Postgres_EnvFallbackURL(t *testing.T) {
	url, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	t.Setenv(EnvDatabaseWriteURL, "")
	t.Setenv(EnvDatabaseReadURL, "")
	t.Setenv(EnvDatabaseURL, url)

	db, err := NewFromEnv(ctx)
	require.NoError(t, err, "DATABASE_URL alone must be enough")

	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, url, db.URL())
	assert.Equal(t, TopologyShared, db.Topology())
	assert.True(t, db.IsConnected(ctx))
}

// ---------------------------------------------------------------------------
// TestIntegration_Postgres_WaitReady
// ---------------------------------------------------------------------------

func TestIntegration_Postgres_WaitReady(t *testing.T) {
	url, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	db, err := New(ctx, newIntegrationConfig(url))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	assert.NoError(t, db.WaitReady(waitCtx), "a healthy database is ready immediately")
}

// ---------------------------------------------------------------------------
// TestIntegration_Postgres_Lifecycle
// ---------------------------------------------------------------------------

func TestIntegration_Postgres_Lifecycle(t *testing.T) {
	url, cleanup := setupPostgresContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	db, err := New(ctx, newIntegrationConfig(url))
	require.NoError(t, err)

	assert.True(t, db.IsConnected(ctx), "IsConnected should be true while the server is up")

	require.NoError(t, db.Close())

	assert.False(t, db.IsConnected(ctx), "IsConnected should be false after Close")
	assert.ErrorIs(t, db.Ping(ctx), ErrClosed)

	_, err = db.Resolver(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, db.Close(), "Close is idempotent")
}
