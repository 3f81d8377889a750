package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies coordination-core failures.
type ErrorCode string

const (
	// ErrCodeConfiguration: no resolvable room identifier or otherwise
	// invalid caller input. Fatal to the attempt, caller must fix input.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	// ErrCodeTransport: connect/publish/subscribe failure. Recoverable,
	// the caller may retry once state has resolved.
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	// ErrCodeBackendRequest: non-success response from the backend API.
	ErrCodeBackendRequest ErrorCode = "BACKEND_REQUEST_ERROR"
	// ErrCodeProtocol: malformed data message; the single message is
	// dropped, the channel keeps running.
	ErrCodeProtocol ErrorCode = "PROTOCOL_ERROR"
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a code, a human-readable message and an optional
// cause plus context fields.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a context field to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

func NewConfigurationError(message string) *AppError {
	return New(ErrCodeConfiguration, message)
}

func NewTransportError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeTransport, message)
}

func NewBackendRequestError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeBackendRequest, message)
}

func NewProtocolError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeProtocol, message)
}

// CodeOf extracts the error code from an error chain, or
// ErrCodeInternal when no AppError is present.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether the error chain contains an AppError with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
