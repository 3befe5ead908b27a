// Package errors provides the typed error taxonomy for the plugin host.
// All error types support unwrapping via errors.As() and errors.Is().
//
// The taxonomy separates four failure classes so callers can tell them apart:
//
//   - LoadError: the module could not be loaded (malformed wasm, missing
//     exports, api_version mismatch). A reload failure keeps the old entry.
//   - CapabilityDeniedError: the plugin is well-formed but untrusted; its
//     command is not published.
//   - SandboxFault: the guest misbehaved at run time (fuel exhaustion, stack
//     overflow, wall-clock timeout, trap). Surfaced as a system-class error.
//   - ProtocolError: the guest produced bytes the host cannot decode. Always
//     the guest's fault; the host never crashes on adversarial output.
package errors

import (
	stdErrors "errors"
	"fmt"
)

// FaultKind classifies a SandboxFault.
type FaultKind string

const (
	FaultFuelExhausted FaultKind = "fuel_exhausted"
	FaultStackOverflow FaultKind = "stack_overflow"
	FaultTimeout       FaultKind = "timeout"
	FaultTrap          FaultKind = "trap"
)

// LoadError indicates a plugin module could not be loaded or validated.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to load plugin %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("failed to load plugin: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// APIVersionError indicates the guest declared an incompatible api_version.
// It is always wrapped in a LoadError; the mismatch is a hard rejection.
type APIVersionError struct {
	Expected uint32
	Actual   uint32
}

func (e *APIVersionError) Error() string {
	return fmt.Sprintf("api version mismatch: host supports %d, plugin declares %d", e.Expected, e.Actual)
}

// CapabilityDeniedError indicates a declared capability was not granted.
// Distinct from LoadError so operators can tell "broken" from "untrusted".
type CapabilityDeniedError struct {
	Subject string // plugin or command id
	Kind    string // capability kind, e.g. "fs_read"
	Pattern string // the denied pattern, if a single one was at fault
	Reason  string
}

func (e *CapabilityDeniedError) Error() string {
	msg := fmt.Sprintf("capability denied for %s: %s", e.Subject, e.Kind)
	if e.Pattern != "" {
		msg += fmt.Sprintf(" (pattern %q)", e.Pattern)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// SandboxFault indicates the guest exceeded a resource limit or trapped.
// This is a system-class failure: the plugin is presumed misbehaving, not
// the invoker.
type SandboxFault struct {
	Kind FaultKind
	Err  error
}

func (e *SandboxFault) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sandbox fault (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("sandbox fault (%s)", e.Kind)
}

func (e *SandboxFault) Unwrap() error {
	return e.Err
}

// ProtocolError indicates malformed wire bytes from the guest: an unknown
// tag, a length that lies about the remaining buffer, or invalid UTF-8.
type ProtocolError struct {
	Offset  int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error at offset %d: %s", e.Offset, e.Message)
}

// NewProtocolError creates a ProtocolError at the given buffer offset.
func NewProtocolError(offset int, format string, args ...any) *ProtocolError {
	return &ProtocolError{Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// CommandNotFoundError indicates a lookup for a command with no registry entry.
type CommandNotFoundError struct {
	Name string
}

func (e *CommandNotFoundError) Error() string {
	return fmt.Sprintf("command not found: %s", e.Name)
}

// IsLoadError reports whether err is or wraps a LoadError.
func IsLoadError(err error) bool {
	var e *LoadError
	return stdErrors.As(err, &e)
}

// IsCapabilityDenied reports whether err is or wraps a CapabilityDeniedError.
func IsCapabilityDenied(err error) bool {
	var e *CapabilityDeniedError
	return stdErrors.As(err, &e)
}

// IsSandboxFault reports whether err is or wraps a SandboxFault.
func IsSandboxFault(err error) bool {
	var e *SandboxFault
	return stdErrors.As(err, &e)
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var e *ProtocolError
	return stdErrors.As(err, &e)
}

// IsCommandNotFound reports whether err is or wraps a CommandNotFoundError.
func IsCommandNotFound(err error) bool {
	var e *CommandNotFoundError
	return stdErrors.As(err, &e)
}
