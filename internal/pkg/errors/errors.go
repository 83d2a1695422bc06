// Package errors provides the coded error type shared by the render service.
// Errors carry a category code that maps onto an HTTP status, the failing
// operation, structured fields for the response body and a short stack.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Code categorizes an error.
type Code string

const (
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeTimeout           Code = "TIMEOUT"
)

// Error is a coded error with optional context.
type Error struct {
	Code    Code
	Message string
	// Op names the failing operation, e.g. "store.update".
	Op     string
	Err    error
	Fields map[string]any
	Stack  []Frame
}

// Frame is a single captured stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so errors.Is(err, &Error{Code: CodeNotFound}) works.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithField attaches a detail that is surfaced in the response body.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// HTTPStatus maps the code onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidTransition:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeResourceExhausted:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// StackTrace renders the captured frames one per line.
func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack(2)}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Stack: captureStack(2)}
}

// Wrap annotates err with an operation and message. A wrapped *Error keeps its
// code and fields; anything else becomes internal.
func Wrap(err error, op, message string) *Error {
	if err == nil {
		return nil
	}
	out := &Error{Code: CodeInternal, Message: message, Op: op, Err: err, Stack: captureStack(2)}
	var e *Error
	if errors.As(err, &e) {
		out.Code = e.Code
		out.Fields = e.Fields
	}
	return out
}

// NotFound reports an unknown resource id.
func NotFound(resource, id string) *Error {
	return New(CodeNotFound, resource+" not found").
		WithField("resource", resource).
		WithField("id", id)
}

// ValidationField reports the first invalid field of a submission.
func ValidationField(field, message string) *Error {
	return New(CodeValidation, message).WithField("field", field)
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// InvalidTransition reports a rejected job state change.
func InvalidTransition(from, to string) *Error {
	return Newf(CodeInvalidTransition, "invalid transition %s -> %s", from, to).
		WithField("from", from).
		WithField("to", to)
}

func ResourceExhausted(message string) *Error {
	return New(CodeResourceExhausted, message)
}

func Unavailable(service string) *Error {
	return New(CodeUnavailable, "service unavailable: "+service).WithField("service", service)
}

// GetCode returns the code of the first *Error in the chain, or CodeInternal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func GetFields(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// GetMessage returns the client-facing message of the first *Error in the chain.
func GetMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

func IsCode(err error, code Code) bool { return GetCode(err) == code }

func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }

func IsValidation(err error) bool { return IsCode(err, CodeValidation) }

func IsInvalidTransition(err error) bool { return IsCode(err, CodeInvalidTransition) }

func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])

	frames := make([]Frame, 0, n)
	it := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := it.Next()
		if !strings.Contains(frame.File, "runtime/") {
			frames = append(frames, Frame{File: frame.File, Line: frame.Line, Function: frame.Function})
		}
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// As and Is re-export the standard helpers so callers need a single import.
func As(err error, target any) bool { return errors.As(err, target) }

func Is(err, target error) bool { return errors.Is(err, target) }
