package capture

import (
	"errors"
	"fmt"
	"net/http"
)

// Class is the observability label attached to a failed screenshot attempt.
type Class string

// Failure classes reported by the client.
const (
	ClassUnconfigured Class = "screenshot_worker_unconfigured"
	ClassFailed       Class = "screenshot_worker_failed"
)

// Reason narrows a failure to who is at fault.
type Reason string

// Failure reasons.
const (
	ReasonValidation Reason = "validation"
	ReasonAuth       Reason = "auth"
	ReasonUpstream   Reason = "upstream"
)

// ErrNoImage means the worker answered ok but sent no usable image.
var ErrNoImage = errors.New("capture worker returned no image")

// Error describes a failed capture call.
type Error struct {
	Class      Class
	Reason     Reason
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s (%s)", e.Class, e.Reason)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusClass buckets StatusCode as "4xx", "5xx" and so on. It is empty when
// no response was received.
func (e *Error) StatusClass() string {
	switch {
	case e.StatusCode == 0:
		return ""
	case e.StatusCode >= 100 && e.StatusCode < 600:
		return fmt.Sprintf("%dxx", e.StatusCode/100)
	default:
		return "unknown"
	}
}

func statusReason(code int) Reason {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ReasonAuth
	case code >= 400 && code < 500:
		return ReasonValidation
	default:
		return ReasonUpstream
	}
}

func upstream(cause error) *Error {
	return &Error{Class: ClassFailed, Reason: ReasonUpstream, Cause: cause}
}
