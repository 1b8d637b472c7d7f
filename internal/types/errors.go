package types

import (
	"errors"
	"fmt"
)

// ErrorKind tags every failure a caller can observe.
type ErrorKind string

const (
	KindConnection         ErrorKind = "connection_error"
	KindCompile            ErrorKind = "compile_error"
	KindUpload             ErrorKind = "upload_error"
	KindRemoteRuntime      ErrorKind = "remote_runtime_error"
	KindTimeoutExceeded    ErrorKind = "timeout_exceeded"
	KindCancelled          ErrorKind = "cancelled"
	KindDiscoveryAmbiguous ErrorKind = "discovery_ambiguous"
	KindDeviceBusy         ErrorKind = "device_busy"
	KindNotFound           ErrorKind = "not_found"
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindInternal           ErrorKind = "internal"
)

// Error is the structured error used across the core. Line is only set for
// compile errors (1-based, 0 when unknown).
type Error struct {
	Kind    ErrorKind
	Message string
	Line    int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Kind == KindCompile && e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	if e.Err != nil {
		if msg == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so errors.Is(err, &Error{Kind: KindDeviceBusy}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrConnection         = &Error{Kind: KindConnection}
	ErrCompile            = &Error{Kind: KindCompile}
	ErrUpload             = &Error{Kind: KindUpload}
	ErrRemoteRuntime      = &Error{Kind: KindRemoteRuntime}
	ErrTimeoutExceeded    = &Error{Kind: KindTimeoutExceeded}
	ErrCancelled          = &Error{Kind: KindCancelled}
	ErrDiscoveryAmbiguous = &Error{Kind: KindDiscoveryAmbiguous}
	ErrDeviceBusy         = &Error{Kind: KindDeviceBusy}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
)

func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func ConnectionError(message string, err error) *Error {
	return &Error{Kind: KindConnection, Message: message, Err: err}
}

func CompileError(line int, message string) *Error {
	return &Error{Kind: KindCompile, Line: line, Message: message}
}

func UploadError(message string) *Error {
	return &Error{Kind: KindUpload, Message: message}
}

// RemoteRuntimeError keeps the hub's exception text untouched.
func RemoteRuntimeError(text string) *Error {
	return &Error{Kind: KindRemoteRuntime, Message: text}
}

func DeviceBusy(device string) *Error {
	return &Error{Kind: KindDeviceBusy, Message: fmt.Sprintf("device %q is in use by another session", device)}
}

func DiscoveryAmbiguous(names []string) *Error {
	return &Error{
		Kind:    KindDiscoveryAmbiguous,
		Message: fmt.Sprintf("%d hubs found %v, specify one by name", len(names), names),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ErrorDetail is the serialisable form of an Error attached to results.
type ErrorDetail struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Line    int       `json:"line,omitempty"`
}

// DetailOf converts any error into an ErrorDetail. The remote runtime text
// is kept verbatim.
func DetailOf(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		msg := e.Message
		if e.Err != nil && e.Kind != KindRemoteRuntime {
			if msg == "" {
				msg = e.Err.Error()
			} else {
				msg = msg + ": " + e.Err.Error()
			}
		}
		return &ErrorDetail{Kind: e.Kind, Message: msg, Line: e.Line}
	}
	return &ErrorDetail{Kind: KindInternal, Message: err.Error()}
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
