// Package apperr holds the error taxonomy shared by the core modules.
//
// Business-rule failures are returned as *Error values whose Kind is one of
// the sentinel errors below, so callers can branch with errors.Is. Storage
// and transport faults are wrapped with Internal and never match a Kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrForbidden         = errors.New("forbidden")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrMissingLocation   = errors.New("missing pickup location")
	ErrDriverUnavailable = errors.New("driver unavailable")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrBadRequest        = errors.New("bad request")
)

// ErrInvalidState is the InvalidTransition case where the current status
// itself rules the request out (terminal status, or an operation that needs
// a specific source status). errors.Is(err, ErrInvalidTransition) holds too.
var ErrInvalidState = fmt.Errorf("invalid state: %w", ErrInvalidTransition)

type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return New(ErrNotFound, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return New(ErrInvalidState, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return New(ErrInvalidTransition, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(ErrForbidden, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(ErrConflict, format, args...)
}

func BadRequest(format string, args ...any) *Error {
	return New(ErrBadRequest, format, args...)
}

// internalError wraps an infrastructure fault with the operation that hit it.
type internalError struct {
	op  string
	err error
}

func (e *internalError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *internalError) Unwrap() error {
	return e.err
}

// Internal wraps err as an infrastructure failure. Already-classified
// business errors pass through untouched.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &internalError{op: op, err: err}
}

// IsInternal reports whether err carries no business classification.
func IsInternal(err error) bool {
	var ae *Error
	return err != nil && !errors.As(err, &ae)
}

type kindInfo struct {
	kind   error
	code   string
	status int
}

// Order matters: ErrInvalidState must be checked before ErrInvalidTransition.
var kinds = []kindInfo{
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrInvalidState, "invalid_state", http.StatusConflict},
	{ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{ErrForbidden, "forbidden", http.StatusForbidden},
	{ErrCapacityExceeded, "capacity_exceeded", http.StatusUnprocessableEntity},
	{ErrMissingLocation, "missing_location", http.StatusUnprocessableEntity},
	{ErrDriverUnavailable, "driver_unavailable", http.StatusConflict},
	{ErrConflict, "conflict", http.StatusConflict},
	{ErrBadRequest, "bad_request", http.StatusBadRequest},
}

// Code returns the taxonomy tag for err, or "internal".
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.code
		}
	}
	return "internal"
}

// HTTPStatus maps err to the response status used by the HTTP layer.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}
