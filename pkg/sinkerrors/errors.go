// Package sinkerrors provides the structured error type used across the
// GeoPackage sink. Errors carry a category, a message, an optional cause,
// key-value details and the call stack captured where they were created.
//
// # Basic Usage
//
//	err := sinkerrors.New(sinkerrors.ErrorTypeUnsupportedGeometry, "curve geometries cannot be encoded").
//	    WithDetail("object_id", id)
//
//	if err := tx.Commit(); err != nil {
//	    return sinkerrors.Wrap(err, sinkerrors.ErrorTypeStore, "failed to commit table").
//	        WithDetail("table", name)
//	}
//
// # Categories
//
// The category decides how the pipeline reacts: per-record categories
// (unsupported_geometry, encoding) follow the configured record error
// policy, store errors abort the run, canceled marks a cooperative stop.
package sinkerrors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// ErrorTypeInternal represents internal invariant violations
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeUnsupportedGeometry represents geometry kinds the encoder cannot represent
	ErrorTypeUnsupportedGeometry ErrorType = "unsupported_geometry"
	// ErrorTypeEncoding represents geometry serialization failures
	ErrorTypeEncoding ErrorType = "encoding"
	// ErrorTypeStore represents GeoPackage store failures
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeCanceled represents a cooperative stop requested by the caller
	ErrorTypeCanceled ErrorType = "canceled"
	// ErrorTypeData represents malformed input entities or schemas
	ErrorTypeData ErrorType = "data"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFile represents file system errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypePublish represents archive upload errors
	ErrorTypePublish ErrorType = "publish"
)

// ErrCanceled is returned when an operation observes the cancellation flag.
var ErrCanceled = &Error{Type: ErrorTypeCanceled, Message: "operation canceled"}

// Error represents a structured error with context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrCanceled and e is a cancellation, so that
// errors.Is(err, ErrCanceled) holds for every canceled error regardless of
// where it was created.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t == ErrCanceled && e.Type == ErrorTypeCanceled
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message, capturing the
// call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error, preserving the stack of a wrapped *Error.
// Returns nil if err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) && existingErr.Stack != nil {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType checks if any error in the chain is of the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsCanceled reports whether err represents a cooperative stop, either a
// canceled *Error or a canceled context.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return IsType(err, ErrorTypeCanceled) || errors.Is(err, context.Canceled)
}

// IsRecordLevel reports whether err only affects the record being processed.
func IsRecordLevel(err error) bool {
	return IsType(err, ErrorTypeUnsupportedGeometry) || IsType(err, ErrorTypeEncoding)
}

func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
