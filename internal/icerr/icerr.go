// Package icerr classifies errors raised anywhere in the broadcast core
// into the fixed set of kinds the external HTTP surface maps to status
// codes.
package icerr

import (
	"errors"
	"net/http"
)

// Kind is one of the error kinds named by the error handling design.
type Kind int

const (
	KindProtocol Kind = iota
	KindAuth
	KindAdmission
	KindNotFound
	KindMethod
	KindInternal
)

// Error wraps an underlying cause with a Kind that determines the HTTP
// status a handler writes back.
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Msg + ": " + e.cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Msg: msg, cause: cause}
}

func Protocol(msg string) *Error           { return newErr(KindProtocol, msg, nil) }
func ProtocolWrap(msg string, c error) *Error { return newErr(KindProtocol, msg, c) }
func Auth(msg string) *Error                { return newErr(KindAuth, msg, nil) }
func Admission(msg string) *Error           { return newErr(KindAdmission, msg, nil) }
func NotFound(msg string) *Error            { return newErr(KindNotFound, msg, nil) }
func Method(msg string) *Error              { return newErr(KindMethod, msg, nil) }
func Internal(msg string) *Error            { return newErr(KindInternal, msg, nil) }
func InternalWrap(msg string, c error) *Error { return newErr(KindInternal, msg, c) }

// Status returns the HTTP status code for an error produced anywhere in
// the core. Errors that are not *Error are treated as internal.
func Status(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindProtocol:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindAdmission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindMethod:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes the status and a short plaintext body for err.
func WriteError(w http.ResponseWriter, err error) {
	status := Status(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="icestream"`)
	}
	if status == http.StatusMethodNotAllowed {
		w.Header().Set("Allow", "GET, SOURCE")
	}
	http.Error(w, err.Error(), status)
}
