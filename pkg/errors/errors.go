package errors

import (
	"errors"
	"fmt"
)

// AppError is the structured error type used across the system. It carries
// a stable machine-readable Code alongside a human-readable Message and an
// optional wrapped error for chaining.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with the given code, message and optional
// underlying error.
func New(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Wrap attaches a message to an existing error. If err is (or wraps) an
// *AppError, that error's code is kept; otherwise the code is "INTERNAL".
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Code: ae.Code, Message: message + ": " + ae.Message, Err: ae.Err}
	}
	return &AppError{Code: "INTERNAL", Message: message, Err: err}
}

// Is reports whether err is an *AppError with the given code.
func Is(err error, code string) bool {
	var ae *AppError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == code
}

// Code extracts the AppError code from err, or "" if err is not an
// *AppError.
func Code(err error) string {
	var ae *AppError
	if !errors.As(err, &ae) {
		return ""
	}
	return ae.Code
}
