package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the Runtime's propagation policy. Kinds
// are not Go error types; they are sentinel-wrapped markers checked with
// errors.Is, matching the teacher's convention of a handful of shared
// sentinel errors rather than a type hierarchy.
type Kind string

const (
	// KindValidation is caller-visible; recovered at the boundary.
	KindValidation Kind = "validation"
	// KindNotFound means a run/node/edge/artifact/approval is missing.
	KindNotFound Kind = "not_found"
	// KindCapabilityDenied means the node may not perform this tool.
	KindCapabilityDenied Kind = "capability_denied"
	// KindApprovalRequired is not an error per se; it suspends the turn.
	KindApprovalRequired Kind = "approval_required"
	// KindProviderTransport is an adapter I/O failure.
	KindProviderTransport Kind = "provider_transport"
	// KindToolExecution means the tool ran but failed.
	KindToolExecution Kind = "tool_execution"
	// KindStalled is raised by the Stall Detector.
	KindStalled Kind = "stalled"
	// KindFatal is an unrecoverable internal invariant violation.
	KindFatal Kind = "fatal"
)

// Error wraps an underlying error with a Kind and optional structured
// fields, preserving errors.Is/errors.As chains via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &Error{Kind: KindNotFound}) style checks. A
// target with an empty Message matches on Kind alone; a target with a
// Message must match both Kind and Message. Err is never compared.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Message != "" {
		return t.Kind == e.Kind && t.Message == e.Message
	}
	return t.Kind == e.Kind
}

// NewError constructs a Kind-tagged error, optionally wrapping cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// IsKind reports whether err (or anything it wraps) carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Convenience constructors mirroring section 7's error kinds.

func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

func NewCapabilityDeniedError(tool, reason string) *Error {
	return &Error{Kind: KindCapabilityDenied, Message: fmt.Sprintf("tool %q denied: %s", tool, reason)}
}

func NewProviderTransportError(cause error) *Error {
	return &Error{Kind: KindProviderTransport, Message: "provider transport failure", Err: cause}
}

func NewToolExecutionError(tool string, cause error) *Error {
	return &Error{Kind: KindToolExecution, Message: fmt.Sprintf("tool %q execution failed", tool), Err: cause}
}

func NewFatalError(cause error) *Error {
	return &Error{Kind: KindFatal, Message: "fatal runtime invariant violation", Err: cause}
}
