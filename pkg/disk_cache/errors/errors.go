package errors

import "errors"

var (
	ErrNilCache             = errors.New("nil cache")
	ErrNotFound             = errors.New("cache entry not found")
	ErrLockNotAcquired      = errors.New("cache lock not acquired")
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
)
