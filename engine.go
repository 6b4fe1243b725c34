package bastion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/xraph/bastion/id"
	"github.com/xraph/bastion/plugin"
	"github.com/xraph/bastion/rule"
	"github.com/xraph/bastion/store"
)

// Engine is the permission resolver. It loads rules from the store into
// an in-memory index, evaluates requests against it, and writes new rules
// through the store.
//
// Evaluate and AddRule are safe for concurrent use.
type Engine struct {
	store       store.Store
	cache       Cache
	plugins     *plugin.Registry
	logger      *slog.Logger
	config      Config
	clock       clock.Clock
	ranking     Ranking
	defaults    *DefaultTable
	extraOwners []string
	botOwners   map[string]struct{}

	index atomic.Pointer[ruleIndex]

	// writeMu serializes index updates and creation stamps.
	writeMu   sync.Mutex
	lastStamp time.Time
}

// NewEngine creates a new Bastion engine with the given options.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:  slog.Default(),
		config:  DefaultConfig(),
		clock:   clock.WallClock,
		ranking: defaultRanking,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		return nil, errors.New("bastion: store is required")
	}
	if err := e.ranking.Validate(); err != nil {
		return nil, err
	}
	if e.defaults == nil {
		e.defaults = BuiltinDefaults()
	}
	if len(e.config.Defaults) > 0 {
		e.defaults = e.defaults.Merge(e.config.Defaults)
	}
	e.botOwners = make(map[string]struct{}, len(e.config.BotOwners)+len(e.extraOwners))
	for _, o := range append(append([]string{}, e.config.BotOwners...), e.extraOwners...) {
		if o != "" {
			e.botOwners[o] = struct{}{}
		}
	}
	return e, nil
}

// Store returns the underlying composite store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry (may be nil).
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Defaults returns the default table.
func (e *Engine) Defaults() *DefaultTable { return e.defaults }

// Start loads every stored rule into the index. A load failure is fatal:
// the engine stays unstarted and every evaluation fails closed.
func (e *Engine) Start(ctx context.Context) error {
	n, err := e.load(ctx)
	if err != nil {
		return err
	}
	e.logger.Info("bastion: rules loaded", slog.Int("count", n))
	if e.plugins != nil {
		e.plugins.EmitRulesReloaded(ctx, n)
	}
	return nil
}

// Reload rebuilds the index from the store, for use after the store was
// changed outside the engine. On failure the previous index stays live.
func (e *Engine) Reload(ctx context.Context) error {
	n, err := e.load(ctx)
	if err != nil {
		return err
	}
	e.logger.Info("bastion: rules reloaded", slog.Int("count", n))
	if e.plugins != nil {
		e.plugins.EmitRulesReloaded(ctx, n)
	}
	return nil
}

// Stop performs graceful shutdown.
func (e *Engine) Stop(ctx context.Context) error {
	if e.plugins != nil {
		e.plugins.EmitShutdown(ctx)
	}
	return nil
}

// Started reports whether the rule index has been loaded.
func (e *Engine) Started() bool { return e.index.Load() != nil }

// load rebuilds the index from the store. writeMu is held across the read
// and the swap so a concurrent AddRule lands either in the listing or on
// top of the new index.
func (e *Engine) load(ctx context.Context) (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	rules, err := e.store.ListRules(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: load rules: %w", ErrStorage, err)
	}
	var newest time.Time
	for _, r := range rules {
		if verr := ValidateRule(r); verr != nil {
			return 0, fmt.Errorf("%w: stored rule %s: %w", ErrStorage, r.ID, verr)
		}
		if r.CreatedAt.After(newest) {
			newest = r.CreatedAt
		}
	}

	var rev uint64
	if cur := e.index.Load(); cur != nil {
		rev = cur.revision + 1
	}
	e.index.Store(buildIndex(rev, rules))
	if newest.After(e.lastStamp) {
		e.lastStamp = newest
	}
	if e.cache != nil {
		e.cache.Purge(ctx)
	}
	return len(rules), nil
}

// ──────────────────────────────────────────────────
// Evaluation
// ──────────────────────────────────────────────────

// Evaluate decides whether req is allowed. It errors only when req is
// malformed or the engine has not loaded its rules; an unknown permission
// key falls through to the fail-closed default.
func (e *Engine) Evaluate(ctx context.Context, req *Request) (*Decision, error) {
	start := time.Now()
	if req == nil || req.Key == "" {
		return nil, fmt.Errorf("%w: permission key is required", ErrInvalidRequest)
	}
	ix := e.index.Load()
	if ix == nil {
		return nil, ErrNotStarted
	}

	if e.plugins != nil {
		e.plugins.EmitBeforeEvaluate(ctx, req)
	}

	var d *Decision
	switch {
	case e.requesterIsBotOwner(req):
		d = &Decision{Key: req.Key, Allowed: true, Reason: ReasonBotOwnerOverride, Detail: "requester is a bot owner"}
	case e.cache != nil:
		if cached, ok := e.cache.Get(ctx, ix.revision, req); ok {
			d = cached.clone()
			break
		}
		d = e.resolve(ix, req)
		e.cache.Set(ctx, ix.revision, req, d)
		d = d.clone()
	default:
		d = e.resolve(ix, req)
	}
	d.EvalTimeNs = time.Since(start).Nanoseconds()

	e.logger.Debug("bastion: evaluated",
		slog.String("key", req.Key),
		slog.String("requester", req.RequesterID),
		slog.Bool("allowed", d.Allowed),
		slog.String("reason", string(d.Reason)),
	)

	if e.plugins != nil {
		e.plugins.EmitAfterEvaluate(ctx, req, d)
	}
	return d, nil
}

// Enforce returns an error wrapping ErrAccessDenied if req is denied.
func (e *Engine) Enforce(ctx context.Context, req *Request) error {
	d, err := e.Evaluate(ctx, req)
	if err != nil {
		return fmt.Errorf("bastion evaluate: %w", err)
	}
	if !d.Allowed {
		return fmt.Errorf("%w: %s (%s)", ErrAccessDenied, req.Key, d.Reason)
	}
	return nil
}

// Allowed is a shorthand for Evaluate that returns only the verdict.
func (e *Engine) Allowed(ctx context.Context, req *Request) (bool, error) {
	d, err := e.Evaluate(ctx, req)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Effective resolves every permission key that has at least one rule
// applying to req. req.Key is ignored. Decisions are sorted by key.
func (e *Engine) Effective(ctx context.Context, req *Request) ([]*Decision, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix := e.index.Load()
	if ix == nil {
		return nil, ErrNotStarted
	}
	owner := e.requesterIsBotOwner(req)

	var out []*Decision
	for _, key := range ix.keys() {
		q := *req
		q.Key = key
		if owner {
			out = append(out, &Decision{Key: key, Allowed: true, Reason: ReasonBotOwnerOverride, Detail: "requester is a bot owner"})
			continue
		}
		d := e.resolve(ix, &q)
		if d.Reason == ReasonMatchedRule {
			out = append(out, d)
		}
	}
	return out, nil
}

// resolve picks the winning rule for req from ix, or falls back to the
// default table.
func (e *Engine) resolve(ix *ruleIndex, req *Request) *Decision {
	var (
		best     *rule.Rule
		bestSpec Specificity
	)
	for _, r := range ix.rulesFor(req.Key) {
		m := e.ranking.Match(r, req)
		if !m.Applies {
			continue
		}
		if best == nil || outranks(r, m.Specificity, best, bestSpec) {
			best, bestSpec = r, m.Specificity
		}
	}

	if best != nil {
		spec := bestSpec
		return &Decision{
			Key:         req.Key,
			Allowed:     best.Allowed,
			Reason:      ReasonMatchedRule,
			RuleID:      best.ID,
			Rule:        best.Clone(),
			Specificity: &spec,
			Detail:      fmt.Sprintf("%s rule for %s", best.Scope, best.Target),
		}
	}

	allowed, entry := e.defaults.Lookup(req.Key)
	detail := "no default entry, denied"
	if entry != "" {
		detail = "default entry " + entry
	}
	return &Decision{Key: req.Key, Allowed: allowed, Reason: ReasonDefault, Detail: detail}
}

// outranks reports whether candidate a beats b. Higher specificity wins,
// then the later creation time, then the greater ID. This is a total
// order over distinct rules.
func outranks(a *rule.Rule, as Specificity, b *rule.Rule, bs Specificity) bool {
	if c := as.Compare(bs); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.Compare(b.ID) > 0
}

func (e *Engine) requesterIsBotOwner(req *Request) bool {
	return req.IsBotOwner || e.isBotOwner(req.RequesterID)
}

func (e *Engine) isBotOwner(userID string) bool {
	if userID == "" {
		return false
	}
	_, ok := e.botOwners[userID]
	return ok
}

// ──────────────────────────────────────────────────
// Rule writes
// ──────────────────────────────────────────────────

// AddRule validates r, checks that caller may write it, and persists it.
// The rule is visible to Evaluate once AddRule returns. ID and CreatedAt
// are assigned by the engine; r itself is not modified.
//
// A nil caller skips the capability check, for callers that authorized
// the write themselves. A storage failure wraps ErrStorage and leaves
// the index unchanged.
func (e *Engine) AddRule(ctx context.Context, r *rule.Rule, caller *Caller) (id.RuleID, error) {
	if r == nil {
		return id.Nil, ValidateRule(nil)
	}
	if e.index.Load() == nil {
		return id.Nil, ErrNotStarted
	}

	cp := r.Clone()
	normalizeRule(cp)
	if err := ValidateRule(cp); err != nil {
		e.reject(ctx, cp, err)
		return id.Nil, err
	}
	if caller != nil {
		if err := e.Authorize(cp, caller); err != nil {
			e.reject(ctx, cp, err)
			return id.Nil, err
		}
		if cp.CreatedBy == "" {
			cp.CreatedBy = caller.ID
		}
	}

	e.writeMu.Lock()
	cp.ID = id.NewRuleID()
	cp.CreatedAt = e.nextStamp()
	if err := e.store.CreateRule(ctx, cp); err != nil {
		e.writeMu.Unlock()
		err = fmt.Errorf("%w: create rule: %w", ErrStorage, err)
		e.reject(ctx, cp, err)
		return id.Nil, err
	}
	e.lastStamp = cp.CreatedAt
	e.index.Store(e.index.Load().with(cp))
	e.writeMu.Unlock()

	if e.cache != nil {
		e.cache.Purge(ctx)
	}
	e.logger.Info("bastion: rule added",
		slog.String("rule_id", cp.ID.String()),
		slog.String("key", cp.Key),
		slog.String("scope", string(cp.Scope)),
		slog.String("scope_id", cp.ScopeID),
		slog.String("target", cp.Target.String()),
		slog.Bool("allowed", cp.Allowed),
	)
	if e.plugins != nil {
		e.plugins.EmitRuleAdded(ctx, cp.Clone())
	}
	return cp.ID, nil
}

// nextStamp returns a millisecond-aligned creation time strictly after
// every rule already indexed, so creation order is total within the
// process and survives stores with millisecond precision. Must hold
// writeMu.
func (e *Engine) nextStamp() time.Time {
	now := e.clock.Now().UTC().Truncate(time.Millisecond)
	if !now.After(e.lastStamp) {
		now = e.lastStamp.Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return now
}

func (e *Engine) reject(ctx context.Context, r *rule.Rule, err error) {
	e.logger.Warn("bastion: rule rejected",
		slog.String("key", r.Key),
		slog.String("error", err.Error()),
	)
	if e.plugins != nil {
		e.plugins.EmitRuleRejected(ctx, r.Clone(), err)
	}
}

// ──────────────────────────────────────────────────
// Rule reads
// ──────────────────────────────────────────────────

// Rules returns the indexed rules for key, oldest first.
func (e *Engine) Rules(key string) []*rule.Rule {
	ix := e.index.Load()
	if ix == nil {
		return nil
	}
	src := ix.rulesFor(key)
	out := make([]*rule.Rule, 0, len(src))
	for _, r := range src {
		out = append(out, r.Clone())
	}
	rule.SortByCreation(out)
	return out
}

// RuleCount returns the number of indexed rules.
func (e *Engine) RuleCount() int {
	if ix := e.index.Load(); ix != nil {
		return ix.count
	}
	return 0
}

// GetRule fetches a stored rule by ID.
func (e *Engine) GetRule(ctx context.Context, ruleID id.RuleID) (*rule.Rule, error) {
	r, err := e.store.GetRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, rule.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
		}
		return nil, fmt.Errorf("%w: get rule: %w", ErrStorage, err)
	}
	return r, nil
}

// ListRules lists stored rules and the total matching the filter,
// ignoring pagination.
func (e *Engine) ListRules(ctx context.Context, filter *rule.ListFilter) ([]*rule.Rule, int64, error) {
	rules, err := e.store.ListRules(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list rules: %w", ErrStorage, err)
	}
	total, err := e.store.CountRules(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: count rules: %w", ErrStorage, err)
	}
	return rules, total, nil
}
