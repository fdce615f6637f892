package review

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable failure code surfaced to clients.
type Code string

// Input validation codes.
const (
	CodeEmptyURL         Code = "EMPTY_URL"
	CodeInvalidURLFormat Code = "INVALID_URL_FORMAT"
	CodeInvalidProtocol  Code = "INVALID_PROTOCOL"
	CodeInvalidDomain    Code = "INVALID_DOMAIN"
	CodeNotReviewURL     Code = "NOT_REVIEW_URL"
	CodeMissingURL       Code = "MISSING_URL"
	CodeInvalidPreset    Code = "INVALID_PRESET"
)

// Upstream fetch codes.
const (
	CodeAccessDenied    Code = "ACCESS_DENIED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeHTTPError       Code = "HTTP_ERROR"
	CodeFetchFailed     Code = "FETCH_FAILED"
	CodeInvalidRedirect Code = "INVALID_REDIRECT"
	CodeRedirectFailed  Code = "REDIRECT_FAILED"
)

// Session, render and admission codes.
const (
	CodeMissingSession Code = "MISSING_SESSION"
	CodeSessionExpired Code = "SESSION_EXPIRED"
	CodeRenderTimeout  Code = "RENDER_TIMEOUT"
	CodeRenderFailed   Code = "RENDER_FAILED"
	CodeRateLimited    Code = "RATE_LIMITED"
)

// Error is a coded failure. Message is human-readable, Detail optional
// extra context, Err the wrapped cause (if any).
type Error struct {
	Code    Code
	Message string
	Detail  string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two coded errors by code alone, so sentinel comparisons
// like errors.Is(err, &Error{Code: CodeNotFound}) work.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NewError builds a coded error without a cause.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError builds a coded error around a cause.
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from an error chain; unknown errors map to
// RENDER_FAILED only at the render boundary, so here they return "".
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
