package match

import "errors"

// Sentinel kinds for matcher errors.
var (
	ErrNoParticipants = errors.New("kill has no player participants")
)
