package rule

import (
	"context"
	"errors"

	"github.com/xraph/bastion/id"
)

// Store defines persistence operations for permission rules.
type Store interface {
	// CreateRule persists a new rule. It either stores the whole record or
	// nothing.
	CreateRule(ctx context.Context, r *Rule) error

	// GetRule retrieves a rule by ID.
	GetRule(ctx context.Context, ruleID id.RuleID) (*Rule, error)

	// ListRules returns rules matching the filter, oldest first. A nil
	// filter returns every stored rule.
	ListRules(ctx context.Context, filter *ListFilter) ([]*Rule, error)

	// CountRules returns the number of rules matching the filter.
	CountRules(ctx context.Context, filter *ListFilter) (int64, error)

	// DeleteRule removes a rule by ID. The engine never calls it; operators
	// that delete rules must reload the engine afterwards.
	DeleteRule(ctx context.Context, ruleID id.RuleID) error
}

// ErrNotFound is wrapped by Store implementations when a rule does not exist.
var ErrNotFound = errors.New("rule: not found")
