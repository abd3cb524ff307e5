package devin

import (
	"errors"
	"fmt"
)

// ErrRemoteUnavailable matches every transport or non-2xx failure from the session API.
var ErrRemoteUnavailable = errors.New("devin: remote unavailable")

// ErrNotConfigured is wrapped by the placeholder gateway when no API key is set.
var ErrNotConfigured = errors.New("DEVIN_API_KEY is not configured")

// RemoteError describes a failed call to the session API.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("devin %s: http status %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("devin %s: http status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("devin %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteUnavailable
}
