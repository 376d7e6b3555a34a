// Package nanotube is the public API for the dataflow engine runtime: a
// graph of cooperatively scheduled stages communicating over bounded
// SPSC channels, manipulating packets through fixed-function taps and
// arbitrated maps.
package nanotube

import (
	"errors"
	"fmt"
	"os"
)

// Error represents a structured engine error with context about which
// object and operation failed.
type Error struct {
	Op      string    // Operation that failed (e.g. "AddChannel", "MapOp", "Flush")
	Channel string    // Channel name, if applicable ("" if not)
	MapID   uint32    // Map id, if applicable (0 if not)
	Code    ErrorCode // High-level error category
	Msg     string    // Human-readable message
	Inner   error     // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Channel != "" {
		parts = append(parts, fmt.Sprintf("channel=%s", e.Channel))
	}
	if e.MapID != 0 {
		parts = append(parts, fmt.Sprintf("map=%d", e.MapID))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("nanotube: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("nanotube: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support, comparing by error code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories.
type ErrorCode string

const (
	// ErrCodeContractViolation covers programmer contract violations:
	// wrong thread calling a channel, duplicate registration, a client
	// count mismatch at arbiter build time. These are fatal.
	ErrCodeContractViolation ErrorCode = "contract violation"
	// ErrCodeMapReject covers a rejected map operation: wrong sizes,
	// missing buffers, absent key for UPDATE, duplicate key for
	// INSERT, full backend for INSERT, or an out-of-range array index.
	ErrCodeMapReject ErrorCode = "map operation rejected"
	// ErrCodeTimeout covers a bounded wait (e.g. Flush) exceeding its
	// deadline.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeInvalidParameters covers bad configuration supplied at
	// graph-build time.
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	// ErrCodeIO covers failures from an external I/O operation (e.g.
	// reading a map persistence stream).
	ErrCodeIO ErrorCode = "I/O error"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewChannelError creates a channel-scoped error.
func NewChannelError(op, channel string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Channel: channel, Code: code, Msg: msg}
}

// NewMapError creates a map-scoped error.
func NewMapError(op string, mapID uint32, code ErrorCode, msg string) *Error {
	return &Error{Op: op, MapID: mapID, Code: code, Msg: msg}
}

// WrapError wraps an existing error with engine context, mapping common
// stdlib sentinel errors to an ErrorCode.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ue, ok := inner.(*Error); ok {
		return &Error{Op: op, Channel: ue.Channel, MapID: ue.MapID, Code: ue.Code, Msg: ue.Msg, Inner: ue.Inner}
	}

	code := ErrCodeIO
	switch {
	case errors.Is(inner, os.ErrNotExist), errors.Is(inner, os.ErrPermission):
		code = ErrCodeInvalidParameters
	}

	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) a structured Error with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
