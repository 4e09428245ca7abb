// File: internal/capture/errors.go
package capture

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode tags every failure the capture workflow reports.
type ErrorCode string

const (
	CodeHeadlessEnvironment ErrorCode = "headless_environment"
	CodeNavigationFailed    ErrorCode = "navigation_failed"
	CodeBrowserLaunchFailed ErrorCode = "browser_launch_failed"
	CodeSessionNotFound     ErrorCode = "session_not_found"
	CodeCaptureFailed       ErrorCode = "capture_failed"
	CodeSaveFailed          ErrorCode = "save_failed"
)

// HTTPStatus maps the code onto the status an HTTP boundary should answer with.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeHeadlessEnvironment:
		return http.StatusServiceUnavailable
	case CodeNavigationFailed:
		return http.StatusBadRequest
	case CodeSessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is the tagged error returned by the capture service.
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

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrHeadlessEnvironment = &Error{Code: CodeHeadlessEnvironment}
	ErrNavigationFailed    = &Error{Code: CodeNavigationFailed}
	ErrBrowserLaunchFailed = &Error{Code: CodeBrowserLaunchFailed}
	ErrSessionNotFound     = &Error{Code: CodeSessionNotFound}
	ErrCaptureFailed       = &Error{Code: CodeCaptureFailed}
	ErrSaveFailed          = &Error{Code: CodeSaveFailed}
)

// CodeOf extracts the capture code from err, or "" when err did not come from this package.
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
