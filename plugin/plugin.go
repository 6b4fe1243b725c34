// Package plugin defines the plugin system for Bastion.
// Plugins are notified of lifecycle events (evaluation performed, rule
// added, rules reloaded) and can react with logging, metrics, or tracing.
//
// Each lifecycle hook is a separate interface so plugins opt in only
// to the events they care about.
package plugin

import (
	"context"

	"github.com/xraph/bastion/rule"
)

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	// Name returns a unique human-readable name for the plugin.
	Name() string
}

// ──────────────────────────────────────────────────
// Evaluation hooks
// ──────────────────────────────────────────────────

// BeforeEvaluate is called before a permission request is resolved.
// The req parameter is *bastion.Request (passed as any to avoid import cycle).
type BeforeEvaluate interface {
	OnBeforeEvaluate(ctx context.Context, req any) error
}

// AfterEvaluate is called after a permission request is resolved.
// The req parameter is *bastion.Request; decision is *bastion.Decision.
type AfterEvaluate interface {
	OnAfterEvaluate(ctx context.Context, req, decision any) error
}

// ──────────────────────────────────────────────────
// Rule lifecycle hooks
// ──────────────────────────────────────────────────

// RuleAdded is called after a rule is persisted and visible to evaluation.
type RuleAdded interface {
	OnRuleAdded(ctx context.Context, r *rule.Rule) error
}

// RuleRejected is called when a rule write fails validation,
// authorization, or persistence.
type RuleRejected interface {
	OnRuleRejected(ctx context.Context, r *rule.Rule, cause error) error
}

// RulesReloaded is called after the rule index is rebuilt from storage.
type RulesReloaded interface {
	OnRulesReloaded(ctx context.Context, count int) error
}

// ──────────────────────────────────────────────────
// Shutdown hook
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
