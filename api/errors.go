package api

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestFailed wraps transport-level failures (connection refused, timeout).
	ErrRequestFailed = errors.New("request failed")
	// ErrMalformedResponse is returned when a 2xx body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// Error is a failure reported by the backend, either through a non-2xx status
// or a success:false envelope.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("api error %d", e.StatusCode)
	}
}

// IsAPIError reports whether err carries a backend-reported failure.
func IsAPIError(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr)
}
