// Package postgres provides a single access point for PostgreSQL connection
// pools with separated write and read paths.
//
// Targets are resolved from environment-provided connection strings
// (DATABASE_WRITE_URL, DATABASE_URL, DATABASE_READ_URL), pools are created
// through pgxpool, and a process-wide Slot guarantees exactly-once
// initialization across concurrent callers. When no distinct read target is
// configured the reader aliases the writer pool, so services can always route
// reads through Reader() without caring which topology they run under.
//
// Typical startup:
//
//	db, err := postgres.Init(ctx)
//	if err != nil {
//		logger.Log(ctx, log.LevelError, "database init failed", log.Err(err))
//		os.Exit(1)
//	}
//	defer db.Close()
//
// After a successful Init, Writer(), Reader() and URL() are safe from any
// goroutine for the life of the process.
package postgres
