package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrProposalNotFound   = errors.New("proposal not found")
	ErrAlreadyFinalized   = errors.New("proposal already finalized")
	ErrAlreadyVoted       = errors.New("already voted")
	ErrNotCouncilMember   = errors.New("caller is not a council member")
	ErrDescriptionTooLong = errors.New("description length is too long")
	ErrInvalidPolicy      = errors.New("invalid policy")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAdmissionDenied    = errors.New("proposal denied by admission policy")
	ErrNotReady           = errors.New("voting period has not expired and no majority vote yet")
)

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	// KindValidation marks input rejected before any mutation; the caller may fix and resubmit.
	KindValidation ErrorKind = "validation"
	// KindPrecondition marks a call against state that does not allow it.
	KindPrecondition ErrorKind = "precondition"
	// KindFatal marks a broken invariant. The call is aborted.
	KindFatal ErrorKind = "fatal"
	// KindInternal covers everything else, typically storage failures.
	KindInternal ErrorKind = "internal"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Kind    ErrorKind
	Op      string
	Message string
	Details map[string]any
}

// NewError builds a DomainError for op, deriving the kind from the wrapped sentinel.
func NewError(op string, err error, details map[string]any) *DomainError {
	return &DomainError{
		Err:     err,
		Kind:    kindFor(err),
		Op:      op,
		Details: details,
	}
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// KindOf reports the classification of err. Errors that carry no domain
// meaning are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) && de.Kind != "" {
		return de.Kind
	}
	return kindFor(err)
}

func kindFor(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrDescriptionTooLong),
		errors.Is(err, ErrInvalidPolicy),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrAdmissionDenied):
		return KindValidation
	case errors.Is(err, ErrProposalNotFound),
		errors.Is(err, ErrAlreadyFinalized),
		errors.Is(err, ErrAlreadyVoted),
		errors.Is(err, ErrNotCouncilMember):
		return KindPrecondition
	case errors.Is(err, ErrNotReady):
		return KindFatal
	default:
		return KindInternal
	}
}
