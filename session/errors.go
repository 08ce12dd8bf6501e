package session

import "errors"

// Common errors for session store operations.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
	ErrExpired          = errors.New("cached session expired")
	ErrCorrupt          = errors.New("cached session is malformed")
	ErrClosed           = errors.New("session store is closed")
)
