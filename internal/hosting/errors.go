package hosting

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by a Client matches exactly one of these
// with errors.Is.
var (
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrTransport              = errors.New("transport error")
	ErrMergeRejected          = errors.New("merge rejected")
	ErrTriggerRejected        = errors.New("trigger rejected")
	ErrNotFound               = errors.New("not found")

	// ErrAlreadyMerged is returned when a merge is refused because the change
	// request is already merged. Callers treat it as success.
	ErrAlreadyMerged = errors.New("already merged")
)

// Error is a classified hosting API failure.
type Error struct {
	Op         string // e.g. "merge change request"
	Kind       error  // one of the Err* sentinels
	StatusCode int    // 0 when the request never got a response
	Message    string
	Err        error // provider error, may be nil
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (HTTP %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsSuccessEquivalent reports whether err means the merge goal is already
// reached. A nil error is success-equivalent too.
func IsSuccessEquivalent(err error) bool {
	return err == nil || errors.Is(err, ErrAlreadyMerged)
}

// KindOf returns a stable snake_case name for the kind of err, or "" for nil.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyMerged):
		return "already_merged"
	case errors.Is(err, ErrAuthenticationRejected):
		return "authentication_rejected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMergeRejected):
		return "merge_rejected"
	case errors.Is(err, ErrTriggerRejected):
		return "trigger_rejected"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error kind to the status code the server answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrAuthenticationRejected):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMergeRejected), errors.Is(err, ErrTriggerRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// classify turns a provider failure into an *Error. rejected is the kind used
// when the service understood the request but refused it; reads pass
// ErrTransport.
func classify(op string, statusCode int, message string, err error, rejected error) error {
	kind := rejected
	switch {
	case statusCode == 0:
		kind = ErrTransport
	case statusCode == http.StatusUnauthorized:
		kind = ErrAuthenticationRejected
	case statusCode == http.StatusForbidden:
		if rejected == ErrTransport {
			kind = ErrAuthenticationRejected
		}
	case statusCode == http.StatusNotFound:
		kind = ErrNotFound
	case statusCode >= 500:
		kind = ErrTransport
	}
	return &Error{Op: op, Kind: kind, StatusCode: statusCode, Message: message, Err: err}
}
