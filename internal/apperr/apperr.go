// Package apperr defines the error taxonomy shared by the REST boundary and the
// coordination services. Each error carries a stable code the client can switch on
// and a human-readable reason.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups errors by how the caller should react.
type Kind string

const (
	// KindAuth is a missing or invalid credential. Terminal for a connection.
	KindAuth Kind = "auth"
	// KindAuthorization is a refused pairing or a party acting outside its session.
	KindAuthorization Kind = "authorization"
	// KindValidation is a malformed request.
	KindValidation Kind = "validation"
	// KindNotFound is a missing session or record.
	KindNotFound Kind = "not_found"
	// KindUnavailable is a collaborator store or upstream outage.
	KindUnavailable Kind = "unavailable"
	// KindRateLimit is an abuse limit. The connection stays usable.
	KindRateLimit Kind = "rate_limit"
)

// Error is an application error with an HTTP mapping.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so wrapped copies of a sentinel
// still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of e carrying cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

func newError(kind Kind, status int, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Status: status}
}

var (
	ErrInvalidToken = newError(KindAuth, http.StatusUnauthorized, "invalid_token", "Invalid or expired authentication token")
	ErrUnauthorized = newError(KindAuth, http.StatusUnauthorized, "unauthorized", "Authentication required")

	ErrPartnerNotFound = newError(KindAuthorization, http.StatusNotFound, "partner_not_found", "The person you are trying to call does not exist")
	ErrNotConnected    = newError(KindAuthorization, http.StatusForbidden, "not_connected", "You are not connected with this person")
	ErrNotApproved     = newError(KindAuthorization, http.StatusForbidden, "not_approved", "Your connection with this person has not been approved yet")
	ErrSelfCall        = newError(KindAuthorization, http.StatusBadRequest, "cannot_call_self", "You cannot call yourself")
	ErrForbidden       = newError(KindAuthorization, http.StatusForbidden, "forbidden", "You are not a participant of this session")
	ErrNotInRoom       = newError(KindAuthorization, http.StatusForbidden, "not_in_room", "Join the room before sending to it")

	ErrSessionNotAccepted = newError(KindValidation, http.StatusBadRequest, "session_not_accepted", "The session has not been accepted yet")
	ErrBadRequest         = newError(KindValidation, http.StatusBadRequest, "bad_request", "Invalid request parameters")

	ErrSessionNotFound = newError(KindNotFound, http.StatusNotFound, "session_not_found", "Session not found")
	ErrRoomNotFound    = newError(KindNotFound, http.StatusNotFound, "room_not_found", "Room not found")
	ErrPartyNotFound   = newError(KindNotFound, http.StatusNotFound, "party_not_found", "Account not found")

	ErrRateLimited        = newError(KindRateLimit, http.StatusTooManyRequests, "rate_limited", "Too many messages, slow down")
	ErrTooManyConnections = newError(KindRateLimit, http.StatusTooManyRequests, "too_many_connections", "Too many open connections for this account")

	ErrStoreUnavailable = newError(KindUnavailable, http.StatusServiceUnavailable, "store_unavailable", "Service temporarily unavailable")
)

// Unavailable wraps an unexpected collaborator-store failure.
func Unavailable(cause error) *Error {
	return ErrStoreUnavailable.WithCause(cause)
}

// BadRequest returns a validation error with a specific reason.
func BadRequest(message string) *Error {
	cp := *ErrBadRequest
	cp.Message = message
	return &cp
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
