package errors

import "errors"

var (
	// ErrNoDataSources is fatal at construction: with no mirror URLs, no
	// cache directory and the snapshot fallback disabled, extraction could
	// never obtain suffix data.
	ErrNoDataSources = errors.New(
		"no data sources: provide suffix list urls, a cache directory, or enable the snapshot fallback",
	)
	ErrNoTlds       = errors.New("no tlds set")
	ErrNilExtractor = errors.New("nil extractor")
)
