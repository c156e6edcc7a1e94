// Package errors provides the typed errors used across ipactable. Every error
// carries a category, so callers can tell a fatal setup failure from a row
// that was merely skipped or a read that should be retried.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType is the category of an error.
type ErrorType string

const (
	// ErrorTypeInternal is reported for errors that carry no category.
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation marks invalid input such as a bad column or condition.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound marks a missing table file or column.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict marks a second writer for an in-flight file or a
	// change to a final status.
	ErrorTypeConflict ErrorType = "conflict"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeFile     ErrorType = "file"
	// ErrorTypeSetup marks a failure to open a destination or read a source
	// header. Setup failures are fatal and leave no partial file behind.
	ErrorTypeSetup ErrorType = "setup"
	// ErrorTypeDecode marks a single malformed row; the row is skipped.
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeProducer marks a row source failing mid-stream.
	ErrorTypeProducer ErrorType = "producer"
	// ErrorTypeWorker marks a background continuation failure.
	ErrorTypeWorker ErrorType = "worker"
	// ErrorTypeUnavailable marks rows that are not written yet.
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeConnection  ErrorType = "connection"
	ErrorTypeTimeout     ErrorType = "timeout"
)

// Error is a categorized error with optional details and the call stack of
// the place it was first created.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is one frame of a captured call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error renders "type: message (k=v, ...): cause" with details sorted by key.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteByte(')')
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair and returns e.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, 2)
	}
	e.Details[key] = value
	return e
}

// New creates an error of the given type.
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Stack: captureStack(3)}
}

// Newf creates an error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...), Stack: captureStack(3)}
}

// Wrap gives err a category and a message. The stack of an already typed
// cause is kept. Wrap returns nil for a nil err.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	e := &Error{Type: errType, Message: message, Cause: err}
	var inner *Error
	if errors.As(err, &inner) {
		e.Stack = inner.Stack
	} else {
		e.Stack = captureStack(3)
	}
	return e
}

// TypeOf returns the category of the outermost typed error in err's chain,
// or ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// IsType reports whether the outermost typed error in err's chain has the
// given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errType
}

// IsRetryable reports whether the same call may succeed later: rows not
// written yet, timeouts and connection failures.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeUnavailable, ErrorTypeTimeout, ErrorTypeConnection:
		return true
	}
	return false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

const maxFrames = 32

func captureStack(skip int) []StackFrame {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]StackFrame, 0, n)
	for {
		f, more := frames.Next()
		stack = append(stack, StackFrame{Function: f.Function, File: f.File, Line: f.Line})
		if !more {
			break
		}
	}
	return stack
}
