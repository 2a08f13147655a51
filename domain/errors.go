package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, machine-readable class of a domain error.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation_error"
	KindAuth       ErrorKind = "auth_error"
	KindForbidden  ErrorKind = "forbidden"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindGateway    ErrorKind = "gateway_error"
	KindInternal   ErrorKind = "internal_error"
)

// Error is returned by the service layer for every failure a caller can act on.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewAuthError(message string) error {
	return &Error{Kind: KindAuth, Message: message}
}

func NewForbiddenError(message string) error {
	return &Error{Kind: KindForbidden, Message: message}
}

func NewNotFoundError(entity string) error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

func NewConflictError(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NewGatewayError(message string, err error) error {
	return &Error{Kind: KindGateway, Message: message, Err: err}
}

func NewInternalError(message string, err error) error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

var (
	ErrUserNotFound            = NewNotFoundError("user")
	ErrMechanicNotFound        = NewNotFoundError("mechanic profile")
	ErrServiceRequestNotFound  = NewNotFoundError("service request")
	ErrPaymentNotFound         = NewNotFoundError("payment")
	ErrDuplicateEmail          = NewValidationError("user already exists")
	ErrInvalidCredentials      = NewValidationError("invalid credentials")
	ErrMechanicUnavailable     = NewConflictError("mechanic is no longer available")
	ErrMechanicProfileExists   = NewConflictError("mechanic profile already exists")
	ErrMechanicNotReserved     = NewConflictError("mechanic is not reserved")
	ErrStaleStatus             = NewConflictError("service request status changed concurrently")
	ErrPaymentNotPending       = NewConflictError("payment is no longer pending")
	ErrPaymentSignatureInvalid = NewForbiddenError("payment signature verification failed")
)

// KindOf reports the kind of err, treating anything unrecognised as internal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message for err. Internal errors get a
// generic message so storage details never reach clients.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Kind != KindInternal {
		return de.Message
	}
	return "internal server error"
}
