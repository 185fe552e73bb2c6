package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/LerianStudio/lib-postgres/v2/postgres/log"
)

// Sentinel errors returned by this package. Match them with errors.Is.
var (
	// ErrMissingWriterURL indicates that neither DATABASE_WRITE_URL nor
	// DATABASE_URL resolved to a usable writer target.
	ErrMissingWriterURL = errors.New("missing writer database URL")

	// ErrInvalidConfig indicates a programmatically constructed Config that
	// cannot be used (empty writer URL, negative bounds).
	ErrInvalidConfig = errors.New("invalid database configuration")

	// ErrNotInitialized is returned by slot accessors before a successful Init.
	ErrNotInitialized = errors.New("database not initialized")

	// ErrNilContext indicates a nil context was passed to a blocking operation.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNilDatabase indicates a method call on a nil *Database.
	ErrNilDatabase = errors.New("database cannot be nil")

	// ErrNilSlot indicates a method call on a nil *Slot.
	ErrNilSlot = errors.New("slot cannot be nil")

	// ErrClosed indicates the database has been closed.
	ErrClosed = errors.New("database is closed")
)

// Role identifies which side of the read/write split a pool serves.
type Role string

// Pool roles.
const (
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

var (
	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringSecretsPattern     = regexp.MustCompile(`(?i)(password|sslkey|sslcert|sslrootcert)=([^\s&]+)`)
)

// PoolError reports a pool creation failure for a specific role. The driver
// cause is reduced to a credential-sanitized Reason; Unwrap returns nil so a
// DSN embedded in the cause can never leak through error chain traversal.
type PoolError struct {
	Role   Role
	Reason string
}

// newPoolError sanitizes cause into a role-tagged PoolError. Returns nil for a
// nil cause.
func newPoolError(role Role, cause error) *PoolError {
	if cause == nil {
		return nil
	}

	return &PoolError{
		Role:   role,
		Reason: sanitizeSensitiveString(cause.Error()),
	}
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("create %s pool: %s", e.Role, e.Reason)
}

// Unwrap returns nil. The original cause may carry credentials, so chain
// traversal stops here.
func (e *PoolError) Unwrap() error {
	return nil
}

// sanitizeSensitiveString masks credentials that postgres drivers commonly
// embed in error text: userinfo in connection URLs and password/ssl key-value
// parameters.
func sanitizeSensitiveString(s string) string {
	sanitized := connectionStringCredentialsPattern.ReplaceAllString(s, "://***@")
	sanitized = connectionStringSecretsPattern.ReplaceAllString(sanitized, "${1}=***")

	return sanitized
}

// warnInsecureDSN logs a warning when a DSN explicitly disables TLS. The DSN
// itself is never logged.
func warnInsecureDSN(ctx context.Context, logger log.Logger, dsn string, role Role) {
	if logger == nil {
		return
	}

	if !strings.Contains(dsn, "sslmode=disable") {
		return
	}

	logger.Log(ctx, log.LevelWarn, "database connection does not use TLS",
		log.String("role", string(role)))
}
