package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeDataQuality ErrorType = "data_quality"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error carries a type from the archive's error taxonomy. Code is the
// upstream HTTP status or API error code when one is known.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Type) + " error"
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(t ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{Type: t, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a type to an underlying error
func Wrap(t ErrorType, err error, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation reports bad input, such as a duplicate handle.
func Validation(format string, args ...interface{}) *Error {
	return New(ErrorTypeValidation, 0, format, args...)
}

// NotFound reports that the upstream has no such account or item.
func NotFound(format string, args ...interface{}) *Error {
	return New(ErrorTypeNotFound, 0, format, args...)
}

// Auth reports an invalid credential or an unreachable upstream.
func Auth(err error, format string, args ...interface{}) *Error {
	return Wrap(ErrorTypeAuth, err, format, args...)
}

// DataQuality reports a raw payload that lacks expected structure.
func DataQuality(format string, args ...interface{}) *Error {
	return New(ErrorTypeDataQuality, 0, format, args...)
}

// TypeOf returns the type of the first *Error in err's chain, or
// ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given type anywhere in its chain.
func Is(err error, t ErrorType) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == t {
			return true
		}
		err = e.Err
	}
	return false
}

func IsValidation(err error) bool  { return Is(err, ErrorTypeValidation) }
func IsNotFound(err error) bool    { return Is(err, ErrorTypeNotFound) }
func IsAuth(err error) bool        { return Is(err, ErrorTypeAuth) }
func IsRateLimit(err error) bool   { return Is(err, ErrorTypeRateLimit) }
func IsDataQuality(err error) bool { return Is(err, ErrorTypeDataQuality) }

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0, 420, 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
