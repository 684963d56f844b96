package live

import (
	"errors"
	"fmt"
)

// Error represents a session error.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.cause
}

// Fatal reports whether the error terminates the session. Malformed audio
// payloads are dropped per payload and do not tear down the session.
func (e *Error) Fatal() bool {
	return e.Code != ErrMalformedAudio
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	ErrPermissionDenied  ErrorCode = "permission_denied"
	ErrDeviceUnavailable ErrorCode = "device_unavailable"
	ErrConnectionRefused ErrorCode = "connection_refused"
	ErrConfigRejected    ErrorCode = "config_rejected"
	ErrMalformedAudio    ErrorCode = "malformed_audio"
	ErrTransport         ErrorCode = "transport_error"
)

// NewPermissionDeniedError creates a capture permission error.
func NewPermissionDeniedError(message string, cause error) *Error {
	return &Error{Code: ErrPermissionDenied, Message: message, cause: cause}
}

// NewDeviceUnavailableError creates a device acquisition error.
func NewDeviceUnavailableError(message string, cause error) *Error {
	return &Error{Code: ErrDeviceUnavailable, Message: message, cause: cause}
}

// NewConnectionRefusedError creates a channel open error.
func NewConnectionRefusedError(message string, cause error) *Error {
	return &Error{Code: ErrConnectionRefused, Message: message, cause: cause}
}

// NewConfigRejectedError creates a session setup rejection error.
func NewConfigRejectedError(message string, cause error) *Error {
	return &Error{Code: ErrConfigRejected, Message: message, cause: cause}
}

// NewMalformedAudioError creates a per-payload decode error.
func NewMalformedAudioError(message string) *Error {
	return &Error{Code: ErrMalformedAudio, Message: message}
}

// NewTransportError creates an asynchronous channel error.
func NewTransportError(cause error) *Error {
	return &Error{Code: ErrTransport, Message: "streaming channel failed", cause: cause}
}

// IsCode reports whether err is or wraps a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var le *Error
	return errors.As(err, &le) && le.Code == code
}

// asSessionError coerces err into a *Error, wrapping foreign errors under
// the given fallback code.
func asSessionError(err error, fallback ErrorCode) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return &Error{Code: fallback, Message: "session failed", cause: err}
}
