package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("duplicate entry")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Sentinel errors of the query service
var (
	ErrPoolExhausted = errors.New("no free engine in pool")
	ErrInvalidID     = errors.New("invalid query identifier")
	ErrClosed        = errors.New("closed")
)
