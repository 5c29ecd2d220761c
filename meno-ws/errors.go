package menows

import (
	"errors"
	"fmt"
)

var (
	// ErrGone is returned by a Sender when the remote end of a connection is
	// confirmed closed. It is the only delivery failure that mutates the
	// connection registry.
	ErrGone = errors.New("connection gone")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionFull     = errors.New("session is full")
	ErrLeaseContention = errors.New("active line is leased to another participant")
)

// ClientError is a malformed or incomplete request from a client. It is
// reported back to that client only.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return e.Message
}

func clientErrorf(format string, args ...interface{}) error {
	return &ClientError{Message: fmt.Sprintf(format, args...)}
}

// IsClientError reports whether err is, or wraps, a *ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}
