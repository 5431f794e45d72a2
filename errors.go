package onvif

import (
	"fmt"

	"github.com/juju/errors"
)

var (
	// ErrNotReady is returned by move operations issued before the profile
	// token has been resolved.
	ErrNotReady = errors.New("no PTZ token")

	// ErrClosed is returned by operations issued after Close.
	ErrClosed = errors.New("controller closed")
)

// Resolution failure reasons
const (
	ReasonMissingService = "missing service"
	ReasonNoToken        = "no token"
)

// TransportError is a connection or I/O failure talking to the device.
// HTTP error statuses are not transport errors.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResolutionError means a bootstrap step could not produce its result
type ResolutionError struct {
	Op     string // "GetCapabilities" or "GetProfiles"
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ParseError reports malformed XML met while extracting an element. It
// matches errors.NotFound so callers may treat it as an absent element.
type ParseError struct {
	Element string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Element, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool {
	return target == errors.NotFound
}

// IsAuthError reports whether err was caused by an HTTP 401 or 403 reply
func IsAuthError(err error) bool {
	return errors.Is(err, errors.Unauthorized) || errors.Is(err, errors.Forbidden)
}
