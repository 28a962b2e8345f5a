// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-transport.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrTransportClosed  = errors.New("transport is closed")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrExecutorClosed   = errors.New("executor is closed")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotSupported     = errors.New("operation not supported")
	ErrNotFound         = errors.New("resource not found")
	ErrNotIPv4          = errors.New("address is not IPv4")

	// Protocol violations. Any of these desynchronizes the stream and the
	// connection carrying it must be dropped.
	ErrBadMagic       = errors.New("bad frame magic")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrMalformedFrame = errors.New("malformed frame")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResolve
	ErrCodeSocket
	ErrCodeProtocol
	ErrCodeNotFound
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// IsProtocolError reports whether err is a connection-fatal framing error.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrMalformedFrame)
}
