package plugin

import (
	"context"
	"log/slog"

	"github.com/xraph/bastion/rule"
)

// Named entry types pair a hook with the plugin name for logging.

type beforeEvaluateEntry struct {
	name string
	hook BeforeEvaluate
}
type afterEvaluateEntry struct {
	name string
	hook AfterEvaluate
}
type ruleAddedEntry struct {
	name string
	hook RuleAdded
}
type ruleRejectedEntry struct {
	name string
	hook RuleRejected
}
type rulesReloadedEntry struct {
	name string
	hook RulesReloaded
}
type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered plugins and dispatches lifecycle events.
// It type-caches plugins at registration time so emit calls iterate
// only over plugins implementing the relevant hook.
//
// Register is not safe for concurrent use; register plugins before the
// engine starts serving.
type Registry struct {
	plugins []Plugin
	logger  *slog.Logger

	beforeEvaluate []beforeEvaluateEntry
	afterEvaluate  []afterEvaluateEntry
	ruleAdded      []ruleAddedEntry
	ruleRejected   []ruleRejectedEntry
	rulesReloaded  []rulesReloadedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates a plugin registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a plugin and type-asserts it into all applicable
// hook caches. Plugins are notified in registration order.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
	name := p.Name()

	if h, ok := p.(BeforeEvaluate); ok {
		r.beforeEvaluate = append(r.beforeEvaluate, beforeEvaluateEntry{name, h})
	}
	if h, ok := p.(AfterEvaluate); ok {
		r.afterEvaluate = append(r.afterEvaluate, afterEvaluateEntry{name, h})
	}
	if h, ok := p.(RuleAdded); ok {
		r.ruleAdded = append(r.ruleAdded, ruleAddedEntry{name, h})
	}
	if h, ok := p.(RuleRejected); ok {
		r.ruleRejected = append(r.ruleRejected, ruleRejectedEntry{name, h})
	}
	if h, ok := p.(RulesReloaded); ok {
		r.rulesReloaded = append(r.rulesReloaded, rulesReloadedEntry{name, h})
	}
	if h, ok := p.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Plugins returns all registered plugins.
func (r *Registry) Plugins() []Plugin { return r.plugins }

// ──────────────────────────────────────────────────
// Evaluation event emitters
// ──────────────────────────────────────────────────

// EmitBeforeEvaluate notifies all plugins that implement BeforeEvaluate.
func (r *Registry) EmitBeforeEvaluate(ctx context.Context, req any) {
	for _, e := range r.beforeEvaluate {
		if err := e.hook.OnBeforeEvaluate(ctx, req); err != nil {
			r.logHookError("OnBeforeEvaluate", e.name, err)
		}
	}
}

// EmitAfterEvaluate notifies all plugins that implement AfterEvaluate.
func (r *Registry) EmitAfterEvaluate(ctx context.Context, req, decision any) {
	for _, e := range r.afterEvaluate {
		if err := e.hook.OnAfterEvaluate(ctx, req, decision); err != nil {
			r.logHookError("OnAfterEvaluate", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Rule event emitters
// ──────────────────────────────────────────────────

// EmitRuleAdded notifies all plugins that implement RuleAdded.
func (r *Registry) EmitRuleAdded(ctx context.Context, rl *rule.Rule) {
	for _, e := range r.ruleAdded {
		if err := e.hook.OnRuleAdded(ctx, rl); err != nil {
			r.logHookError("OnRuleAdded", e.name, err)
		}
	}
}

// EmitRuleRejected notifies all plugins that implement RuleRejected.
func (r *Registry) EmitRuleRejected(ctx context.Context, rl *rule.Rule, cause error) {
	for _, e := range r.ruleRejected {
		if err := e.hook.OnRuleRejected(ctx, rl, cause); err != nil {
			r.logHookError("OnRuleRejected", e.name, err)
		}
	}
}

// EmitRulesReloaded notifies all plugins that implement RulesReloaded.
func (r *Registry) EmitRulesReloaded(ctx context.Context, count int) {
	for _, e := range r.rulesReloaded {
		if err := e.hook.OnRulesReloaded(ctx, count); err != nil {
			r.logHookError("OnRulesReloaded", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Shutdown emitter
// ──────────────────────────────────────────────────

// EmitShutdown notifies all plugins that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated to the caller.
func (r *Registry) logHookError(hook, pluginName string, err error) {
	r.logger.Warn("plugin hook error",
		slog.String("hook", hook),
		slog.String("plugin", pluginName),
		slog.String("error", err.Error()),
	)
}
