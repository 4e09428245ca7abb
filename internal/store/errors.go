// File: internal/store/errors.go
package store

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode tags every failure the store reports so callers can branch on it.
type ErrorCode string

const (
	CodeInvalidName        ErrorCode = "invalid_name"
	CodeDuplicateName      ErrorCode = "duplicate_name"
	CodeLimitExceeded      ErrorCode = "limit_exceeded"
	CodeEncryptionFailed   ErrorCode = "encryption_failed"
	CodeIO                 ErrorCode = "io_error"
	CodeNotFound           ErrorCode = "not_found"
	CodeDecryptionFailed   ErrorCode = "decryption_failed"
	CodeUnsupportedVersion ErrorCode = "unsupported_version"
)

// HTTPStatus maps the code onto the status an HTTP boundary should answer with.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicateName, CodeLimitExceeded:
		return http.StatusConflict
	case CodeDecryptionFailed:
		return http.StatusUnauthorized
	case CodeInvalidName:
		return http.StatusBadRequest
	case CodeUnsupportedVersion:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is the tagged error returned by every fallible store operation.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidName        = &Error{Code: CodeInvalidName}
	ErrDuplicateName      = &Error{Code: CodeDuplicateName}
	ErrLimitExceeded      = &Error{Code: CodeLimitExceeded}
	ErrEncryptionFailed   = &Error{Code: CodeEncryptionFailed}
	ErrIO                 = &Error{Code: CodeIO}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrDecryptionFailed   = &Error{Code: CodeDecryptionFailed}
	ErrUnsupportedVersion = &Error{Code: CodeUnsupportedVersion}
)

// CodeOf extracts the store code from err, or "" when err did not come from the store.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}
