package calendar

import (
	"errors"
	"fmt"
)

var (
	ErrAuthMissing           = errors.New("no authentication token found")
	ErrUpstreamRequestFailed = errors.New("calendar request failed")
)

// RequestError is returned for any non-2xx calendar response.
type RequestError struct {
	Op         string // "insert", "list", "get", "update", "delete"
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("calendar %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("calendar %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error {
	return ErrUpstreamRequestFailed
}
