package resolver

import "errors"

// Sentinel kinds for resolver errors.
var (
	ErrResolution = errors.New("entity resolution failed")
)
