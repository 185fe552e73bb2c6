package postgres

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
)

// State is the lifecycle of a Slot. A Slot starts Uninitialized, moves to
// Initializing when the first Init call begins, and settles in Ready or
// Failed. The terminal state holds for the life of the Slot.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Slot is a one-time initialization primitive holding at most one Database.
//
// Of N concurrent Init callers, exactly one executes the resolve/build
// sequence; the others block until it finishes and observe the identical
// outcome — the same *Database on success, the same error on failure. The
// outcome is cached: later calls return it without re-running anything, and
// a failure permanently poisons the Slot (build a new Slot, or use New
// directly, to retry).
//
// The zero value is ready to use.
type Slot struct {
	once  sync.Once
	state atomic.Int32
	db    *Database
	err   error
}

// Init resolves a Config from the process environment and builds the Slot's
// Database exactly once. Every caller, concurrent or later, receives the same
// *Database or the same error.
func (s *Slot) Init(ctx context.Context) (*Database, error) {
	return s.init(ctx, ConfigFromEnv)
}

// InitWithConfig is Init with an explicit Config instead of the environment.
// Only the first initialization call on a Slot consumes its Config; on an
// already-resolved Slot the argument is ignored and the cached outcome
// returned.
func (s *Slot) InitWithConfig(ctx context.Context, cfg Config) (*Database, error) {
	return s.init(ctx, func() (Config, error) {
		return cfg, nil
	})
}

func (s *Slot) init(ctx context.Context, resolve func() (Config, error)) (*Database, error) {
	if s == nil {
		return nil, ErrNilSlot
	}

	if ctx == nil {
		return nil, ErrNilContext
	}

	s.once.Do(func() {
		s.state.Store(int32(StateInitializing))

		cfg, err := resolve()
		if err != nil {
			s.err = err
			s.state.Store(int32(StateFailed))

			return
		}

		db, err := New(ctx, cfg)
		if err != nil {
			s.err = err
			s.state.Store(int32(StateFailed))

			return
		}

		s.db = db
		s.state.Store(int32(StateReady))
	})

	// once.Do blocks every caller until the executing call returns, so the
	// reads below are ordered after the writes above for all of them.
	if s.err != nil {
		return nil, s.err
	}

	return s.db, nil
}

// State reports the Slot's current lifecycle state without blocking. It is
// intended for observability; to obtain the Database, use Init or Database.
func (s *Slot) State() State {
	if s == nil {
		return StateUninitialized
	}

	return State(s.state.Load())
}

// Database returns the initialized Database, or ErrNotInitialized while the
// Slot is not Ready. Unlike Init it never triggers or waits for
// initialization, so the error is deterministic at every point before a
// successful Init completes.
func (s *Slot) Database() (*Database, error) {
	if s == nil {
		return nil, ErrNilSlot
	}

	if State(s.state.Load()) != StateReady {
		return nil, ErrNotInitialized
	}

	return s.db, nil
}

// Reader returns the read-path pool of the initialized Database.
func (s *Slot) Reader() (*pgxpool.Pool, error) {
	db, err := s.Database()
	if err != nil {
		return nil, err
	}

	return db.Reader(), nil
}

// Writer returns the write-path pool of the initialized Database.
func (s *Slot) Writer() (*pgxpool.Pool, error) {
	db, err := s.Database()
	if err != nil {
		return nil, err
	}

	return db.Writer(), nil
}

// URL returns the resolved writer URL of the initialized Database.
func (s *Slot) URL() (string, error) {
	db, err := s.Database()
	if err != nil {
		return "", err
	}

	return db.URL(), nil
}

// globalSlot backs the package-level access functions. It follows the same
// lifecycle as any other Slot; there is simply one per process.
var globalSlot Slot

// Global returns the process-wide Slot used by the package-level Init,
// Reader, Writer and URL functions. Exposing it lets applications inspect
// its State or pass it around explicitly instead of relying on package
// globals.
func Global() *Slot {
	return &globalSlot
}

// Init initializes the process-wide Database from the environment, exactly
// once across all concurrent and future callers. It is the conventional call
// at application startup:
//
//	db, err := postgres.Init(ctx)
//	if err != nil {
//		// fail fast: the process is misconfigured
//	}
func Init(ctx context.Context) (*Database, error) {
	return globalSlot.Init(ctx)
}

// InitWithConfig initializes the process-wide Database from an explicit
// Config, exactly once.
func InitWithConfig(ctx context.Context, cfg Config) (*Database, error) {
	return globalSlot.InitWithConfig(ctx, cfg)
}

// Reader returns the process-wide read-path pool, or ErrNotInitialized before
// a successful Init.
func Reader() (*pgxpool.Pool, error) {
	return globalSlot.Reader()
}

// Writer returns the process-wide write-path pool, or ErrNotInitialized
// before a successful Init.
func Writer() (*pgxpool.Pool, error) {
	return globalSlot.Writer()
}

// URL returns the process-wide resolved writer URL, or ErrNotInitialized
// before a successful Init.
func URL() (string, error) {
	return globalSlot.URL()
}
