package dispatch

import (
	"errors"
	"fmt"
)

// Code is the machine-readable reason carried by an ERR response.
type Code string

const (
	CodeAuthRequired       Code = "AUTH_REQUIRED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeValidation         Code = "VALIDATION"
	CodeNotFound           Code = "NOT_FOUND"
	CodeNoMatchingSchedule Code = "NO_MATCHING_SCHEDULE"
	CodePatientConflict    Code = "PATIENT_CONFLICT"
	CodeScheduleFull       Code = "SCHEDULE_FULL"
	CodeInternal           Code = "INTERNAL"
	CodeUnknownAction      Code = "UNKNOWN_ACTION"
	CodeRateLimited        Code = "RATE_LIMITED"
)

// Error is a failure that is safe to show to the client. Handlers return it
// for every rejection the client should be able to tell apart; any other
// error is reported as INTERNAL and only logged.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError returns an *Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf formats a client-visible message for code.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and message to err, keeping err for errors.Is.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Validation reports a malformed or incomplete request.
func Validation(format string, args ...interface{}) *Error {
	return Errorf(CodeValidation, format, args...)
}

// AsError extracts the client-visible error from err. ok is false when err
// carries no *Error and must be treated as internal.
func AsError(err error) (e *Error, ok bool) {
	ok = errors.As(err, &e)
	return e, ok
}
