package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Class partitions fetch failures by how the pipeline must react to them.
type Class string

const (
	// ClassTransientNetwork covers timeouts, DNS failures and connection
	// resets. Retryable.
	ClassTransientNetwork Class = "transient_network"
	// ClassTransientService covers 5xx and 429 responses. Retryable.
	ClassTransientService Class = "transient_service"
	// ClassPermanentRequest covers other 4xx responses. Not retryable.
	ClassPermanentRequest Class = "permanent_request"
	// ClassDataIntegrity covers structurally or semantically invalid
	// responses. Not retryable; retrying will not fix a malformed payload.
	ClassDataIntegrity Class = "data_integrity"
)

// Error is a classified fetch failure.
type Error struct {
	Class  Class
	Status int
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt might succeed.
func (e *Error) Retryable() bool {
	return e.Class == ClassTransientNetwork || e.Class == ClassTransientService
}

// Retryable reports whether err might succeed on another attempt. Errors that
// carry no classification are treated as permanent.
func Retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// ClassOf returns the classification of err, or "" for unclassified errors.
func ClassOf(err error) Class {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Class
	}
	return ""
}

// classifyTransport maps a transport-level error from http.Client.Do onto the
// taxonomy. Everything the transport can produce (timeout, DNS, refused
// connection, reset) is transient; the wrapped error stays visible to
// errors.Is so callers can still see context cancellation.
func classifyTransport(rawURL string, err error) *Error {
	return &Error{Class: ClassTransientNetwork, URL: rawURL, Err: err}
}

// classifyStatus maps a non-2xx response status onto the taxonomy.
func classifyStatus(rawURL string, status int, body string) *Error {
	e := &Error{Status: status, URL: rawURL, Err: fmt.Errorf("response: %s", body)}
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		e.Class = ClassTransientService
	default:
		e.Class = ClassPermanentRequest
	}
	return e
}
