package certstore

import "errors"

// Sentinel errors returned by this package. Callers should compare
// against these with errors.Is rather than matching on message text;
// all wrapping preserves the chain with %w.
var (
	// ErrNotAvailable is returned when a requested certificate is not
	// present in a store, neither persisted nor pending in an open
	// transaction.
	ErrNotAvailable = errors.New("certificate not available")

	// ErrInvalidCert is returned when an id or certificate payload
	// passed to Insert is empty or malformed.
	ErrInvalidCert = errors.New("invalid certificate")

	// ErrAlreadyExists is returned by Setup when a store already exists
	// at the given storage path.
	ErrAlreadyExists = errors.New("store already exists")

	// ErrStorageError wraps failures reading or writing the underlying
	// filesystem or archive state that are not attributable to a bad
	// certificate id or payload.
	ErrStorageError = errors.New("storage error")

	// ErrInvalidArgument is returned by Setup when a parameter fails
	// validation, e.g. a negative structure level.
	ErrInvalidArgument = errors.New("invalid argument")
)
