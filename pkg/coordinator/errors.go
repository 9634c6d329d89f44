// Package coordinator holds the error taxonomy shared by every component
// boundary in the escrow coordinator.
//
// F.4 remediation: Explicit typed errors instead of nil, nil returns or bare
// string errors — callers branch on Kind, not on error message text.
package coordinator

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of error categories. The chain gateway, prover
// client and proof pipeline return most of their errors as one of these, and
// the matcher does so for bad input. The projection store (pkg/database)
// returns plain wrapped errors, which the pipeline and sweeper wrap as
// ProjectionFault.
type Kind string

const (
	// BadInput covers malformed addresses, non-positive amounts, wrong-length
	// payee ids. Surface to caller; no retry.
	BadInput Kind = "bad_input"

	// NotFound covers unknown offer / reservation lookups. Surface; no retry.
	NotFound Kind = "not_found"

	// ReceiptInvalid is a pre-check hash mismatch. Surface; caller may re-upload.
	ReceiptInvalid Kind = "receipt_invalid"

	// ReceiptDisagreesWithReservation is the on-chain revert selector for a
	// payment-detail mismatch. Terminal; user must investigate payment.
	ReceiptDisagreesWithReservation Kind = "receipt_disagrees_with_reservation"

	// AlreadyTerminal means the reservation is settled, expired, or not pending.
	// Terminal; no retry.
	AlreadyTerminal Kind = "already_terminal"

	// Overdue means the reservation expired between pre-check and submission.
	// Terminal.
	Overdue Kind = "overdue"

	// CallerNotBuyer maps the contract's NotAuthorized revert. Terminal.
	CallerNotBuyer Kind = "caller_not_buyer"

	// BlockchainError covers RPC timeouts, gas estimation failures, and
	// unknown reverts. Retriable; the caller may retry with backoff.
	BlockchainError Kind = "blockchain_error"

	// ProverUnavailable covers prover 5xx responses and poll timeouts.
	// Retriable; receipt and reservation state are preserved so the caller
	// may restart the pipeline.
	ProverUnavailable Kind = "prover_unavailable"

	// ProjectionFault means the store is unreachable. Fatal at task level;
	// the tailer retries on its own schedule, request-scoped callers fail.
	ProjectionFault Kind = "projection_fault"
)

// Retriable reports whether the policy attached to this Kind permits an
// automatic retry by the caller. It does not decide whether a retry should
// happen now — only whether one is ever sanctioned.
func (k Kind) Retriable() bool {
	switch k {
	case BlockchainError, ProverUnavailable, ProjectionFault:
		return true
	default:
		return false
	}
}

// Error wraps a Kind with a human-readable message and an optional
// underlying cause, following the teacher's fmt.Errorf("...: %w", err)
// wrapping discipline applied to a typed rather than sentinel error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given Kind with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given Kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to BlockchainError for
// untyped errors crossing a boundary that must report a Kind (conservative:
// untyped low-level faults are treated as retriable rather than silently
// swallowed).
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return BlockchainError
}
