package tools

import (
	"errors"
	"fmt"
)

// Code classifies orchestration failures. Codes are stable strings so they
// can cross the HTTP surface and appear in logs unchanged.
type Code string

const (
	// CodeUnknownCommand: no plugin owns the requested command.
	CodeUnknownCommand Code = "unknown_command"
	// CodePluginNotActive: the owning plugin exists but is not ACTIVE.
	CodePluginNotActive Code = "plugin_not_active"
	// CodeHandlerError: a plugin or tool handler failed (or panicked).
	CodeHandlerError Code = "handler_error"
	// CodePoolExhausted: no connection became available within the wait bound.
	CodePoolExhausted Code = "pool_exhausted"
	// CodeTimeout: a remote call exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeServerUnavailable: failure threshold exceeded or pool closed.
	CodeServerUnavailable Code = "server_unavailable"
	// CodeConfiguration: malformed plugin/server configuration at startup.
	CodeConfiguration Code = "configuration_error"
)

// Error is the typed error returned across the orchestration surface.
// Op names the failing operation ("plugin.invoke", "mcp.calltool", ...).
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two Errors by code, so errors.Is(err, &Error{Code: c}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// E builds a typed error with a formatted message.
func E(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and operation to an underlying error.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the Code from err, or "" for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
