// Package errors provides a coded error type shared by the pipeline, providers and the HTTP API
package errors

// Import as perr to keep the stdlib package available

import (
	stderrs "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies failures so callers can react without string matching
type ErrorCode uint16

const (
	// ErrorCodeUnknown is for unclassified errors
	ErrorCodeUnknown ErrorCode = iota

	// ErrorCodeInvalidArgument is for bad caller input (empty command, undecodable image)
	ErrorCodeInvalidArgument

	// ErrorCodeObjectNotIdentified means no target object could be pulled out of a command
	ErrorCodeObjectNotIdentified

	// ErrorCodeProviderUnavailable means the provider could not be reached within the retry budget
	ErrorCodeProviderUnavailable

	// ErrorCodeAuthenticationMissing means the provider needs a credential that is not configured
	ErrorCodeAuthenticationMissing

	// ErrorCodeMalformedUpstreamResponse means the provider answered but the payload shape was unexpected
	ErrorCodeMalformedUpstreamResponse

	// ErrorCodeNoCandidatesParsed means the model text could not be turned into coordinates
	ErrorCodeNoCandidatesParsed

	// ErrorCodeUnsupported is for unknown providers, formats or backends
	ErrorCodeUnsupported
)

var codeNames = map[ErrorCode]string{
	ErrorCodeUnknown:                   "unknown",
	ErrorCodeInvalidArgument:           "invalid_argument",
	ErrorCodeObjectNotIdentified:       "object_not_identified",
	ErrorCodeProviderUnavailable:       "provider_unavailable",
	ErrorCodeAuthenticationMissing:     "authentication_missing",
	ErrorCodeMalformedUpstreamResponse: "malformed_upstream_response",
	ErrorCodeNoCandidatesParsed:        "no_candidates_parsed",
	ErrorCodeUnsupported:               "unsupported",
}

// String returns the snake_case name used in logs and on the wire
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code_%d", uint16(c))
}

// HTTPStatusCode turns an ErrorCode into an http status code
func HTTPStatusCode(c ErrorCode) int {
	switch c {
	case ErrorCodeInvalidArgument, ErrorCodeObjectNotIdentified:
		return http.StatusUnprocessableEntity
	case ErrorCodeAuthenticationMissing:
		return http.StatusUnauthorized
	case ErrorCodeProviderUnavailable:
		return http.StatusServiceUnavailable
	case ErrorCodeMalformedUpstreamResponse:
		return http.StatusBadGateway
	case ErrorCodeNoCandidatesParsed:
		return http.StatusOK
	case ErrorCodeUnsupported:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured error type
// msg is developer facing, code is machine facing, op names the failing operation
type Error struct {
	orig error
	msg  string
	code ErrorCode
	op   string
}

// Wire is the JSON form returned by the HTTP API
type Wire struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Op      string `json:"op,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

// Unwrap returns the wrapped error, if any
func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code
func (e *Error) Code() ErrorCode { return e.code }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// Message returns the message without the wrapped cause
func (e *Error) Message() string { return e.msg }

// ToWire converts an *Error to a Wire payload
func (e *Error) ToWire() Wire { return Wire{Code: e.code.String(), Message: e.Error(), Op: e.op} }

// WireFrom converts any error into a Wire payload
func WireFrom(err error) Wire {
	if err == nil {
		return Wire{}
	}
	if e, ok := As(err); ok {
		return e.ToWire()
	}
	return Wire{Code: ErrorCodeUnknown.String(), Message: err.Error()}
}

// CodeOf extracts an ErrorCode from any error, defaulting to Unknown
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode reports whether err has the given code
func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// HTTPStatus returns the mapped HTTP status for any error
func HTTPStatus(err error) int { return HTTPStatusCode(CodeOf(err)) }

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// WithOp attaches an operation label (copy-on-write). Foreign errors are returned unchanged
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// New returns a new *Error with the given code and message
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf returns a new *Error with code and formatted message
func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with code and message
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with code and formatted message
func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

// Classify keeps an existing code when err already carries one and wraps it with code otherwise
func Classify(err error, code ErrorCode, format string, a ...any) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok && e.code != ErrorCodeUnknown {
		return err
	}
	return Wrapf(err, code, format, a...)
}

// Unavailablef returns a provider unavailable error
func Unavailablef(format string, a ...any) error {
	return Newf(ErrorCodeProviderUnavailable, format, a...)
}

// Malformedf returns a malformed upstream response error
func Malformedf(format string, a ...any) error {
	return Newf(ErrorCodeMalformedUpstreamResponse, format, a...)
}

// InvalidArgf returns an invalid argument error
func InvalidArgf(format string, a ...any) error { return Newf(ErrorCodeInvalidArgument, format, a...) }

// Unsupportedf returns an unsupported error
func Unsupportedf(format string, a ...any) error { return Newf(ErrorCodeUnsupported, format, a...) }
