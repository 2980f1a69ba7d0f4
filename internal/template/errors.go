package template

import (
	"errors"

	"github.com/MrEthical07/goAudit/store"
)

// Reason classifies why the template could not be made ready.
type Reason int

const (
	StoreUnavailable Reason = iota
	PermissionDenied
	Malformed
)

func (r Reason) String() string {
	switch r {
	case StoreUnavailable:
		return "store_unavailable"
	case PermissionDenied:
		return "permission_denied"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by EnsureReady while the template is not ready.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "template " + e.Reason.String()
	}
	return "template " + e.Reason.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether waiting and retrying can succeed without operator
// action.
func (e *Error) Retryable() bool {
	return e != nil && e.Reason == StoreUnavailable
}

// Classify maps a store error onto a template Error. Unknown errors and
// context errors count as StoreUnavailable.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var terr *Error
	if errors.As(err, &terr) {
		return terr
	}
	switch {
	case errors.Is(err, store.ErrPermissionDenied):
		return &Error{Reason: PermissionDenied, Err: err}
	case errors.Is(err, store.ErrMalformed):
		return &Error{Reason: Malformed, Err: err}
	default:
		return &Error{Reason: StoreUnavailable, Err: err}
	}
}

// IsRetryable reports whether err is a retryable template error.
func IsRetryable(err error) bool {
	var terr *Error
	return errors.As(err, &terr) && terr.Retryable()
}
