package directory

import "errors"

// Sentinel kinds for directory lookup errors.
var (
	ErrLookupFailed = errors.New("directory lookup failed")
	ErrNoMatch      = errors.New("directory has no match")
)
