package esi

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-200 response from ESI.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ESI %d", e.StatusCode)
	}
	return fmt.Sprintf("ESI %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying may succeed. 420 is ESI's error-limit
// status.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 420 || e.StatusCode == http.StatusTooManyRequests
}

// ParseError is a payload that does not match the expected shape.
type ParseError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	msg := "ESI parse " + e.Endpoint
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrUnknownMarketGroup is returned for a market group ID ESI does not list.
var ErrUnknownMarketGroup = errors.New("unknown market group")

// IsNotFound reports whether err is an ESI 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
