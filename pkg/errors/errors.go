package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Bridge taxonomy
	ErrCodeSignaling            ErrorCode = "SIGNALING_ERROR"
	ErrCodeTransportUnavailable ErrorCode = "TRANSPORT_UNAVAILABLE"
	ErrCodeSendFailure          ErrorCode = "SEND_FAILURE"
	ErrCodeConnectionFailure    ErrorCode = "CONNECTION_FAILURE"
	ErrCodeSessionSetup         ErrorCode = "SESSION_SETUP"
	ErrCodeSessionActive        ErrorCode = "SESSION_ACTIVE"
	ErrCodeInvalidPayload       ErrorCode = "INVALID_PAYLOAD"
	ErrCodeMalformedEnvelope    ErrorCode = "MALFORMED_ENVELOPE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so callers can write
// errors.Is(err, &AppError{Code: ErrCodeSignaling}).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// NewSignalingError reports a malformed description or a handshake step
// called from the wrong state. cause may be nil.
func NewSignalingError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeSignaling, message, http.StatusConflict)
}

func NewTransportUnavailableError(transport string, cause error) *AppError {
	return WrapError(cause, ErrCodeTransportUnavailable, fmt.Sprintf("%s transport unavailable", transport), http.StatusServiceUnavailable).
		WithContext("transport", transport)
}

func NewSendFailureError(destination string, cause error) *AppError {
	return WrapError(cause, ErrCodeSendFailure, fmt.Sprintf("send to %s failed", destination), http.StatusBadGateway).
		WithContext("destination", destination)
}

func NewConnectionFailureError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeConnectionFailure, message, http.StatusBadGateway)
}

func NewSessionSetupError(cause error) *AppError {
	return WrapError(cause, ErrCodeSessionSetup, "peer session could not be created", http.StatusServiceUnavailable)
}

func NewSessionActiveError(message string) *AppError {
	return NewAppError(ErrCodeSessionActive, message, http.StatusConflict)
}

func NewInvalidPayloadError(message string) *AppError {
	return NewAppError(ErrCodeInvalidPayload, message, http.StatusBadRequest)
}

func NewMalformedEnvelopeError(cause error) *AppError {
	return WrapError(cause, ErrCodeMalformedEnvelope, "malformed envelope", http.StatusBadRequest)
}

// GetAppError returns the first AppError in err's chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether any AppError in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &AppError{Code: code})
}
