package errors

import "errors"

// ErrSuffixListNotFound is recoverable: callers can configure mirrors or
// enable the bundled snapshot fallback.
var ErrSuffixListNotFound = errors.New("no public suffix list found")
