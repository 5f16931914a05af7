// Package apperr carries the error kinds that the HTTP layer maps to status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuthentication      Kind = "authentication"
	KindAuthorization       Kind = "authorization"
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindExternalService     Kind = "external_service"
	KindContentModerated    Kind = "content_moderated"
	KindTimeout             Kind = "timeout"
	KindInternal            Kind = "internal"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Exposed reports whether the message may be shown to the client as is.
func (k Kind) Exposed() bool {
	switch k {
	case KindExternalService, KindTimeout, KindInternal:
		return false
	default:
		return true
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Public replaces Message in client responses for kinds that are not exposed.
	Public string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithPublic returns a copy of e that answers clients with msg.
func (e *Error) WithPublic(msg string) *Error {
	c := *e
	c.Public = msg
	return &c
}

// Is matches any *Error of the same kind, so sentinels like ErrInsufficientCredits
// work with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Authentication(message string) *Error { return New(KindAuthentication, message) }
func Authorization(message string) *Error  { return New(KindAuthorization, message) }
func Validation(message string) *Error     { return New(KindValidation, message) }
func NotFound(message string) *Error       { return New(KindNotFound, message) }
func Conflict(message string) *Error       { return New(KindConflict, message) }

var (
	ErrInsufficientCredits = New(KindInsufficientCredits, "insufficient credits")
	ErrUnauthenticated     = New(KindAuthentication, "authentication required")
	ErrForbidden           = New(KindAuthorization, "insufficient permissions")
)

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// PublicMessage is the text safe to return to a client for err.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Kind.Exposed() {
			return appErr.Message
		}
		if appErr.Public != "" {
			return appErr.Public
		}
		switch appErr.Kind {
		case KindTimeout:
			return "upstream service timed out"
		case KindExternalService:
			return "upstream service failed"
		}
	}
	return "internal error"
}
