package bastion

import (
	"strings"

	"github.com/xraph/bastion/rule"
)

// normalizeRule clears fields that carry no meaning for the rule's scope
// or target kind.
func normalizeRule(r *rule.Rule) {
	if r.Scope == rule.ScopeGlobal {
		r.ScopeID = ""
	}
	if !r.Target.Kind.NeedsID() {
		r.Target.ID = ""
	}
}

// ValidateRule checks the structure of r. It returns a *ValidationError
// describing the first problem found.
func ValidateRule(r *rule.Rule) error {
	if r == nil {
		return &ValidationError{Field: "rule", Reason: "is nil"}
	}
	if r.Key == "" {
		return &ValidationError{Field: "key", Reason: "is required"}
	}
	if err := rule.ValidateKey(r.Key); err != nil {
		return &ValidationError{Field: "key", Reason: err.Error()}
	}
	if strings.Contains(r.Key, rule.StorageKeySep) {
		return &ValidationError{Field: "key", Reason: "must not contain " + quote(rule.StorageKeySep)}
	}
	if !r.Scope.Valid() {
		return &ValidationError{Field: "scope", Reason: "unknown scope " + quote(string(r.Scope))}
	}
	if r.Scope != rule.ScopeGlobal && r.ScopeID == "" {
		return &ValidationError{Field: "scope_id", Reason: "is required for " + string(r.Scope) + " scope"}
	}
	if strings.Contains(r.ScopeID, rule.StorageKeySep) {
		return &ValidationError{Field: "scope_id", Reason: "must not contain " + quote(rule.StorageKeySep)}
	}
	if !r.Target.Kind.Valid() {
		return &ValidationError{Field: "target.kind", Reason: "unknown target kind " + quote(string(r.Target.Kind))}
	}
	if r.Target.Kind.NeedsID() && r.Target.ID == "" {
		return &ValidationError{Field: "target.id", Reason: "is required for " + string(r.Target.Kind) + " targets"}
	}
	if strings.Contains(r.Target.ID, rule.StorageKeySep) {
		return &ValidationError{Field: "target.id", Reason: "must not contain " + quote(rule.StorageKeySep)}
	}
	return nil
}

func quote(s string) string { return `"` + s + `"` }
