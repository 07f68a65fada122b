// Package apperr defines the error taxonomy surfaced to API callers.
//
// Domain code returns these errors (optionally wrapped with eris); the HTTP
// layer maps them to status codes with HTTPStatus.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindValidation    Kind = "validation"
	KindAccessDenied  Kind = "access_denied"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindConflict      Kind = "conflict"
)

// Error is a classified application error with a short summary and a
// longer detail message.
type Error struct {
	Kind    Kind
	Summary string
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Summary
	}
	return e.Summary + ": " + e.Detail
}

// NotFound reports a missing framework, company, dataset, data point,
// request or sourcing entity.
func NotFound(summary, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Summary: summary, Detail: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input.
func Validation(summary, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Summary: summary, Detail: fmt.Sprintf(format, args...)}
}

// AccessDenied reports a missing permission.
func AccessDenied(summary, format string, args ...any) *Error {
	return &Error{Kind: KindAccessDenied, Summary: summary, Detail: fmt.Sprintf(format, args...)}
}

// QuotaExceeded reports an exhausted daily request quota.
func QuotaExceeded(summary, format string, args ...any) *Error {
	return &Error{Kind: KindQuotaExceeded, Summary: summary, Detail: fmt.Sprintf(format, args...)}
}

// Conflict reports a state transition that is not allowed.
func Conflict(summary, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Summary: summary, Detail: fmt.Sprintf(format, args...)}
}

// As extracts the application error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries an application error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// HTTPStatus maps err to a response status. Unclassified errors are 500.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindAccessDenied:
		return http.StatusForbidden
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
