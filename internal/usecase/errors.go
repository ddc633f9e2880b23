package usecase

import (
	"errors"
	"fmt"

	"santa-workshop/internal/domain"
)

type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorInvalidQuestion ErrorCode = "INVALID_QUESTION"
	ErrorSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrorSessionBusy     ErrorCode = "SESSION_BUSY"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// storeError maps a conversation store failure onto a typed error. A missing
// session is reported as such; everything else is internal.
func storeError(err error, reason string) *Error {
	if errors.Is(err, domain.ErrSessionNotFound) {
		return newError(ErrorSessionNotFound, "session_not_found", err)
	}
	return newError(ErrorInternal, reason, err)
}

// CodeOf returns the code of a typed error, or INTERNAL_ERROR for anything
// else.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorInternal
}
