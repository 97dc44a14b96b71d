package feed

import "errors"

// Sentinel kinds for feed errors.
var (
	ErrFeedUnavailable  = errors.New("kill feed unavailable")
	ErrMalformedPackage = errors.New("malformed feed package")
	ErrStatsUnavailable = errors.New("stats service unavailable")
)
