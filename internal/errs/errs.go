// Package errs defines the typed error kinds used across VERITAS OS.
//
// Every stage boundary and public operation returns one of these kinds
// rather than a bare error, so the pipeline orchestrator and the API
// boundary can classify failures without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a VERITAS error for propagation and HTTP-status mapping.
type Kind string

const (
	// KindInvalidInput means validation failed; no retry, 4xx at the API boundary.
	KindInvalidInput Kind = "invalid_input"
	// KindPolicyError means the FUJI policy is missing or invalid. Fatal for
	// the request that triggered the load, but the previous policy keeps running.
	KindPolicyError Kind = "policy_error"
	// KindGateRejected means FUJI rejected the candidate action. Returned
	// in-band as decision_status=rejected, not as an HTTP error.
	KindGateRejected Kind = "gate_rejected"
	// KindCapabilityUnavailable means an optional capability is off or failing.
	KindCapabilityUnavailable Kind = "capability_unavailable"
	// KindTransientIO means a disk/network hiccup; bounded retries apply.
	KindTransientIO Kind = "transient_io"
	// KindDeadlineExceeded means the request deadline expired mid-pipeline.
	KindDeadlineExceeded Kind = "deadline_exceeded"
	// KindChainIntegrity means a TrustLog chain break was detected.
	KindChainIntegrity Kind = "chain_integrity"
	// KindUnauthorized means a missing or bad API key.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound means a requested resource does not exist.
	KindNotFound Kind = "not_found"
	// KindInternal is an unclassified internal failure; used sparingly and
	// never as a catch-all replacement for a more specific kind.
	KindInternal Kind = "internal"
)

// Error is a typed VERITAS error. It wraps an optional cause and carries
// a Stage label so structured logs can report "what failed, where".
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Stage != "" {
			return fmt.Sprintf("%s [%s/%s]: %v", e.Message, e.Stage, e.Kind, e.Cause)
		}
		return fmt.Sprintf("%s [%s]: %v", e.Message, e.Kind, e.Cause)
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s/%s]", e.Message, e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s [%s]", e.Message, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with the given kind and message.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithStage returns a copy of e annotated with the stage it occurred in.
func (e *Error) WithStage(stage string) *Error {
	cp := *e
	cp.Stage = stage
	return &cp
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Recoverable reports whether a stage failure of this kind should degrade
// the stage (recoverable) rather than fail the whole pipeline (fatal), per
// spec.md §4.1 and §7.
func Recoverable(kind Kind) bool {
	switch kind {
	case KindCapabilityUnavailable, KindTransientIO:
		return true
	default:
		return false
	}
}
