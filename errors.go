package widget

import "errors"

// Common errors for widget operations.
var (
	ErrInvalidConfig      = errors.New("invalid widget configuration")
	ErrSessionUnavailable = errors.New("chat session unavailable")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrShutdown           = errors.New("widget is shut down")
)
