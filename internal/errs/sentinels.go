// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/service/sync layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTooManyAttempts indicates login is temporarily blocked after repeated failures.
	ErrTooManyAttempts = errors.New("too many attempts")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalid indicates a request that failed validation.
	ErrInvalid = errors.New("invalid")

	// ErrMigration indicates the local schema could not be brought to the target version.
	ErrMigration = errors.New("migration failed")

	// ErrSchemaMismatch indicates a query referenced a column or table the live schema lacks.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrRemoteUnavailable indicates a remote failure on a read path.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrRemoteWrite indicates a remote failure on a write path.
	ErrRemoteWrite = errors.New("remote write failed")

	// ErrOwnerConflict indicates a write that would overwrite another owner's row.
	ErrOwnerConflict = errors.New("owner conflict")
)
