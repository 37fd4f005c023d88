package view

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned by fetchers when the row service rejects the
// session credential (missing, invalid or expired).
var ErrUnauthorized = errors.New("unauthorized: session credential rejected")

// ErrNoSession is returned when a fetch is attempted without a credential.
var ErrNoSession = errors.New("no active session")

// TransportError is a network or HTTP failure talking to the row service.
// It is recoverable: the view keeps its last good data.
type TransportError struct {
	Op     string // Fetch that failed, e.g. "rows", "filtered count"
	Status int    // HTTP status, 0 when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: service returned %d %s: %v", e.Op, e.Status, http.StatusText(e.Status), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err means the session must be dropped.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoSession)
}
