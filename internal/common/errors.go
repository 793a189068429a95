package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures by how the boundary should report them.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuth           ErrorKind = "auth"
	KindPolicyDisabled ErrorKind = "policy_disabled"
	KindNotFound       ErrorKind = "not_found"
	KindRemoteService  ErrorKind = "remote_service"
	KindInternal       ErrorKind = "internal"
)

// AppError is an error tagged with an ErrorKind.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// StatusCode maps the kind to an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusForbidden
	case KindPolicyDisabled:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindRemoteService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds an AppError of the given kind.
func NewError(kind ErrorKind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

// NewValidationError reports a missing or malformed input.
func NewValidationError(format string, args ...interface{}) *AppError {
	return NewError(KindValidation, fmt.Sprintf(format, args...), nil)
}

// NewAuthError reports a failed credential check.
func NewAuthError(message string) *AppError {
	return NewError(KindAuth, message, nil)
}

// NewPolicyDisabledError reports a feature switched off by configuration.
func NewPolicyDisabledError(message string) *AppError {
	return NewError(KindPolicyDisabled, message, nil)
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(format string, args ...interface{}) *AppError {
	return NewError(KindNotFound, fmt.Sprintf(format, args...), nil)
}

// NewRemoteServiceError wraps a failed call to the ticketing service.
func NewRemoteServiceError(op string, err error) *AppError {
	return NewError(KindRemoteService, "failed to "+op, err)
}

// GetAppError returns the first AppError in err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err carries an AppError of kind.
func IsKind(err error, kind ErrorKind) bool {
	appErr, ok := GetAppError(err)
	return ok && appErr.Kind == kind
}

// IsRetryable reports whether an outbound job failing with err should be
// rescheduled.
func IsRetryable(err error) bool {
	return IsKind(err, KindRemoteService)
}
