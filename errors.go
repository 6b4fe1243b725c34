package bastion

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied is returned by Enforce when a request is denied.
	ErrAccessDenied = errors.New("bastion: access denied")

	// ErrInvalidRule is returned when a rule is structurally malformed.
	// The concrete error is a *ValidationError.
	ErrInvalidRule = errors.New("bastion: invalid rule")

	// ErrInvalidRequest is returned when an evaluation request is nil or
	// carries no permission key.
	ErrInvalidRequest = errors.New("bastion: invalid request")

	// ErrStorage is returned when the rule store cannot persist or load rules.
	ErrStorage = errors.New("bastion: storage failure")

	// ErrCapabilityDenied is returned when a caller attempts a rule write
	// beyond their authorization.
	ErrCapabilityDenied = errors.New("bastion: capability denied")

	// ErrNotStarted is returned when the engine is used before its rules
	// were loaded.
	ErrNotStarted = errors.New("bastion: engine not started")

	// ErrRuleNotFound is returned when a rule cannot be found.
	ErrRuleNotFound = errors.New("bastion: rule not found")

	// ErrInvalidRanking is returned when a specificity ranking does not
	// rank every scope and target kind.
	ErrInvalidRanking = errors.New("bastion: invalid ranking")
)

// ValidationError describes a malformed rule field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidRule, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidRule.
func (e *ValidationError) Unwrap() error { return ErrInvalidRule }
