package engine

import (
	"errors"
	"fmt"

	"rotaline/internal/domain"
)

// Kind classifies engine failures so callers can map them to exit codes
// or HTTP statuses without string matching.
type Kind string

const (
	KindBadCommand          Kind = "bad_command"
	KindInvalidCycle        Kind = "invalid_cycle"
	KindConstraintViolation Kind = "constraint_violation"
	KindStaleProposal       Kind = "stale_proposal"
	KindAlreadyReviewed     Kind = "already_reviewed"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindNothingToUndo       Kind = "nothing_to_undo"
	KindNothingToRedo       Kind = "nothing_to_redo"
	KindStaleSettings       Kind = "stale_settings"
	KindNotFound            Kind = "not_found"
)

type Error struct {
	Kind       Kind
	Message    string
	Violations []domain.Violation
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind, empty for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ViolationsOf extracts the violations attached to a typed error.
func ViolationsOf(err error) []domain.Violation {
	var e *Error
	if errors.As(err, &e) {
		return e.Violations
	}
	return nil
}
