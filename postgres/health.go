package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-postgres/v2/postgres/backoff"
	"github.com/LerianStudio/lib-postgres/v2/postgres/log"
)

const (
	waitReadyBaseDelay  = 100 * time.Millisecond
	waitReadyMaxAttempt = 6
)

// WaitReady blocks until both pools answer a ping or ctx is done, retrying
// with exponential backoff and full jitter. It is intended for startup
// ordering (waiting for a database that is still booting) and for recovery
// probes after an outage.
//
// The caller bounds the wait through ctx; WaitReady imposes no deadline of
// its own. A closed Database never becomes ready.
func (d *Database) WaitReady(ctx context.Context) error {
	if d == nil {
		return ErrNilDatabase
	}

	if ctx == nil {
		return ErrNilContext
	}

	attempt := 0

	for {
		pingErr := d.Ping(ctx)
		if pingErr == nil {
			if attempt > 0 {
				d.logAtLevel(ctx, log.LevelInfo, "database ready",
					log.Int("attempts", attempt+1))
			}

			return nil
		}

		if errors.Is(pingErr, ErrClosed) {
			return pingErr
		}

		delay := backoff.ExponentialWithJitter(waitReadyBaseDelay, attempt)
		if attempt < waitReadyMaxAttempt {
			attempt++
		}

		d.logAtLevel(ctx, log.LevelDebug, "database not ready, retrying",
			log.Int("attempt", attempt),
			log.Duration("delay", delay),
			log.String("reason", sanitizeSensitiveString(pingErr.Error())),
		)

		if sleepErr := backoff.SleepWithContext(ctx, delay); sleepErr != nil {
			return fmt.Errorf("database not ready after %d attempts (last: %s): %w",
				attempt, sanitizeSensitiveString(pingErr.Error()), sleepErr)
		}
	}
}
