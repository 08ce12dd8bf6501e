package realtime

import "errors"

var (
	// ErrNotConnected is returned by writes while no channel is up.
	ErrNotConnected = errors.New("realtime channel is not connected")
	// ErrInvalidURL is returned when the API origin cannot be mapped to a channel URL.
	ErrInvalidURL = errors.New("invalid realtime url")
)
