package bastion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/xraph/bastion/id"
	"github.com/xraph/bastion/rule"
	"github.com/xraph/bastion/store/memory"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memory.Store, *testclock.Clock) {
	t.Helper()
	s := memory.New()
	clk := testclock.NewClock(t0)
	all := append([]Option{WithStore(s), WithClock(clk)}, opts...)
	eng, err := NewEngine(all...)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return eng, s, clk
}

func mustAdd(t *testing.T, eng *Engine, r *rule.Rule) id.RuleID {
	t.Helper()
	ruleID, err := eng.AddRule(context.Background(), r, SystemCaller())
	if err != nil {
		t.Fatalf("add rule %+v: %v", r, err)
	}
	return ruleID
}

func mustEvaluate(t *testing.T, eng *Engine, req *Request) *Decision {
	t.Helper()
	d, err := eng.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("evaluate %+v: %v", req, err)
	}
	return d
}

// failingStore injects errors into a memory store.
type failingStore struct {
	*memory.Store
	createErr error
	listErr   error
}

func (f *failingStore) CreateRule(ctx context.Context, r *rule.Rule) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.Store.CreateRule(ctx, r)
}

func (f *failingStore) ListRules(ctx context.Context, filter *rule.ListFilter) ([]*rule.Rule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.ListRules(ctx, filter)
}

// gatedStore pauses ListRules after the listing is taken, until release is
// closed.
type gatedStore struct {
	*memory.Store
	armed   atomic.Bool
	listed  chan struct{}
	release chan struct{}
}

func (g *gatedStore) ListRules(ctx context.Context, filter *rule.ListFilter) ([]*rule.Rule, error) {
	rules, err := g.Store.ListRules(ctx, filter)
	if g.armed.CompareAndSwap(true, false) {
		close(g.listed)
		<-g.release
	}
	return rules, err
}

// ──────────────────────────────────────────────────
// Construction and lifecycle
// ──────────────────────────────────────────────────

func TestNewEngine_RequiresStore(t *testing.T) {
	if _, err := NewEngine(); err == nil {
		t.Fatal("expected error when store is nil")
	}
}

func TestNewEngine_RejectsIncompleteRanking(t *testing.T) {
	rk := DefaultRanking()
	delete(rk.Target, rule.TargetAdmins)
	_, err := NewEngine(WithStore(memory.New()), WithRanking(rk))
	if !errors.Is(err, ErrInvalidRanking) {
		t.Fatalf("expected ErrInvalidRanking, got %v", err)
	}
}

func TestEvaluateBeforeStart(t *testing.T) {
	eng, err := NewEngine(WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = eng.Evaluate(context.Background(), &Request{Key: "p.events.add", RequesterID: "u1"})
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	_, err = eng.AddRule(context.Background(), &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All()}, nil)
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted from AddRule, got %v", err)
	}
}

func TestEvaluateInvalidRequest(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	for _, req := range []*Request{nil, {RequesterID: "u1"}} {
		if _, err := eng.Evaluate(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}
}

func TestStartFailureIsFatal(t *testing.T) {
	fs := &failingStore{Store: memory.New(), listErr: errors.New("disk on fire")}
	eng, err := NewEngine(WithStore(fs))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if eng.Started() {
		t.Fatal("engine must not start with an unreadable store")
	}
	if _, err := eng.Evaluate(context.Background(), &Request{Key: "p.events.add"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestStartRejectsCorruptRule(t *testing.T) {
	s := memory.New()
	bad := &rule.Rule{ID: id.NewRuleID(), Key: "p.events.add", Scope: rule.ScopeGuild, Target: rule.All(), CreatedAt: t0}
	if err := s.CreateRule(context.Background(), bad); err != nil {
		t.Fatal(err)
	}
	eng, err := NewEngine(WithStore(s))
	if err != nil {
		t.Fatal(err)
	}
	err = eng.Start(context.Background())
	if !errors.Is(err, ErrStorage) || !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrStorage wrapping ErrInvalidRule, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Bot owner override and defaults
// ──────────────────────────────────────────────────

func TestBotOwnerOverride(t *testing.T) {
	eng, _, _ := newTestEngine(t, WithConfig(Config{BotOwners: []string{"owner-cfg"}}), WithBotOwners("owner-opt"))

	mustAdd(t, eng, &rule.Rule{Key: "p.management.restart", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: false})
	mustAdd(t, eng, &rule.Rule{Key: "p.management.restart", Scope: rule.ScopeChannel, ScopeID: "c1", Target: rule.User("owner-cfg"), Allowed: false})

	tests := []struct {
		name string
		req  *Request
	}{
		{"flag", &Request{Key: "p.management.restart", RequesterID: "someone", IsBotOwner: true, GuildID: "g1", ChannelID: "c1"}},
		{"config list", &Request{Key: "p.management.restart", RequesterID: "owner-cfg", GuildID: "g1", ChannelID: "c1"}},
		{"option list", &Request{Key: "p.management.restart", RequesterID: "owner-opt"}},
		{"unknown key", &Request{Key: "p.nothing.here", RequesterID: "x", IsBotOwner: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mustEvaluate(t, eng, tt.req)
			if !d.Allowed || d.Reason != ReasonBotOwnerOverride {
				t.Fatalf("expected bot owner override, got %+v", d)
			}
		})
	}

	d := mustEvaluate(t, eng, &Request{Key: "p.management.restart", RequesterID: "someone", GuildID: "g1", ChannelID: "c1"})
	if d.Allowed {
		t.Fatal("non-owner should be denied")
	}
}

func TestFailClosedDefault(t *testing.T) {
	eng, _, _ := newTestEngine(t, WithConfig(Config{Defaults: map[string]bool{
		"p.dice":        true,
		"p.dice.delete": false,
	}}))

	tests := []struct {
		key     string
		allowed bool
	}{
		{"p.unknown.thing", false},
		{"p.management.restart", false},
		{"p.events.add", true},
		{"p.dice.roll", true},
		{"p.dice.delete", false},
		{"not-a-key", false},
		{"p.events.add.extra", false},
		{"p.roles.toggle.x.y", false},
		{"p.dice", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			d := mustEvaluate(t, eng, &Request{Key: tt.key, RequesterID: "u1", GuildID: "g1", ChannelID: "c1"})
			if d.Reason != ReasonDefault {
				t.Fatalf("expected default reason, got %s", d.Reason)
			}
			if d.Allowed != tt.allowed {
				t.Fatalf("expected allowed=%v, got %v", tt.allowed, d.Allowed)
			}
		})
	}
}

func TestNoDefaultTableDeniesEverything(t *testing.T) {
	eng, _, _ := newTestEngine(t, WithDefaults(NewDefaultTable(nil)))
	d := mustEvaluate(t, eng, &Request{Key: "p.events.add", RequesterID: "u1"})
	if d.Allowed || d.Reason != ReasonDefault {
		t.Fatalf("expected fail-closed deny, got %+v", d)
	}
}

// ──────────────────────────────────────────────────
// Precedence
// ──────────────────────────────────────────────────

// fullRequest satisfies every scope and every target except BotOwners.
func fullRequest(key string) *Request {
	return &Request{
		Key:         key,
		RequesterID: "u1",
		RoleIDs:     []string{"r1"},
		GuildID:     "g1",
		ChannelID:   "c1",
		IsAdmin:     true,
	}
}

func rankedRules(key string) []*rule.Rule {
	scopes := []struct {
		scope rule.Scope
		id    string
	}{
		{rule.ScopeGlobal, ""},
		{rule.ScopeGuild, "g1"},
		{rule.ScopeChannel, "c1"},
	}
	targets := []rule.Target{rule.All(), rule.Admins(), rule.Role("r1"), rule.User("u1")}

	var out []*rule.Rule
	for _, s := range scopes {
		for _, tg := range targets {
			out = append(out, &rule.Rule{Key: key, Scope: s.scope, ScopeID: s.id, Target: tg})
		}
	}
	return out
}

func TestSpecificityIsTotalAndOrderIndependent(t *testing.T) {
	const key = "p.state.post"
	rules := rankedRules(key)
	req := fullRequest(key)

	for i, a := range rules {
		for j, b := range rules {
			if i == j {
				continue
			}
			as := Match(a, req).Specificity
			bs := Match(b, req).Specificity
			if as.Compare(bs) == 0 {
				t.Fatalf("distinct rank combos compared equal: %s/%s vs %s/%s", a.Scope, a.Target, b.Scope, b.Target)
			}
			want := as.Compare(bs) > 0

			// a allows, b denies; add in both orders.
			for _, order := range [][2]*rule.Rule{{a, b}, {b, a}} {
				eng, _, clk := newTestEngine(t)
				for _, r := range order {
					cp := r.Clone()
					cp.Allowed = r == a
					mustAdd(t, eng, cp)
					clk.Advance(time.Second)
				}
				d := mustEvaluate(t, eng, req)
				if d.Reason != ReasonMatchedRule {
					t.Fatalf("expected matched rule, got %s", d.Reason)
				}
				if d.Allowed != want {
					t.Fatalf("%s/%s vs %s/%s (order %s first): expected allowed=%v",
						a.Scope, a.Target, b.Scope, b.Target, order[0].Target, want)
				}
			}
		}
	}
}

func TestChannelAllOutranksGuildUser(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	mustAdd(t, eng, &rule.Rule{Key: "p.state.post", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.User("u1"), Allowed: true})
	mustAdd(t, eng, &rule.Rule{Key: "p.state.post", Scope: rule.ScopeChannel, ScopeID: "c1", Target: rule.All(), Allowed: false})

	d := mustEvaluate(t, eng, fullRequest("p.state.post"))
	if d.Allowed {
		t.Fatal("channel-scoped All rule should outrank guild-scoped User rule")
	}
	if d.Rule.Scope != rule.ScopeChannel {
		t.Fatalf("expected channel rule to win, got %s", d.Rule.Scope)
	}
}

func TestRoleOutranksAdminsAtEqualScope(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	mustAdd(t, eng, &rule.Rule{Key: "p.state.post", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.Role("r1"), Allowed: false})
	mustAdd(t, eng, &rule.Rule{Key: "p.state.post", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.Admins(), Allowed: true})

	if d := mustEvaluate(t, eng, fullRequest("p.state.post")); d.Allowed {
		t.Fatal("role rule should outrank admins rule")
	}
}

func TestRankingIsTableDriven(t *testing.T) {
	rk := DefaultRanking()
	rk.Target[rule.TargetAdmins], rk.Target[rule.TargetRole] = rk.Target[rule.TargetRole], rk.Target[rule.TargetAdmins]

	eng, _, _ := newTestEngine(t, WithRanking(rk))
	mustAdd(t, eng, &rule.Rule{Key: "p.state.post", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.Role("r1"), Allowed: false})
	mustAdd(t, eng, &rule.Rule{Key: "p.state.post", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.Admins(), Allowed: true})

	if d := mustEvaluate(t, eng, fullRequest("p.state.post")); !d.Allowed {
		t.Fatal("admins rule should win once ranked above role")
	}
}

func TestTieBreakLatestCreatedWins(t *testing.T) {
	for _, laterAllowed := range []bool{true, false} {
		t.Run(fmt.Sprintf("later=%v", laterAllowed), func(t *testing.T) {
			eng, _, clk := newTestEngine(t)
			mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.All(), Allowed: !laterAllowed})
			clk.Advance(time.Minute)
			later := mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.All(), Allowed: laterAllowed})

			req := &Request{Key: "p.events.add", RequesterID: "u1", GuildID: "g1", ChannelID: "c1"}
			for range 10 {
				d := mustEvaluate(t, eng, req)
				if d.Allowed != laterAllowed || d.RuleID != later {
					t.Fatalf("expected later rule %s (allowed=%v), got %s (allowed=%v)", later, laterAllowed, d.RuleID, d.Allowed)
				}
			}
		})
	}
}

func TestTieBreakWithoutClockAdvance(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	first := mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: true})
	second := mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: false})

	rules := eng.Rules("p.events.add")
	if len(rules) != 2 || rules[0].ID != first || rules[1].ID != second {
		t.Fatal("rules not returned in creation order")
	}
	if !rules[1].CreatedAt.After(rules[0].CreatedAt) {
		t.Fatal("creation stamps must be strictly increasing")
	}
	if d := mustEvaluate(t, eng, &Request{Key: "p.events.add", RequesterID: "u1"}); d.Allowed || d.RuleID != second {
		t.Fatalf("expected second rule to win, got %+v", d)
	}
}

func TestCreationStampsAreMillisecondAligned(t *testing.T) {
	eng, s, clk := newTestEngine(t)
	first := mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: true})
	clk.Advance(300 * time.Microsecond)
	second := mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: false})

	a, err := s.GetRule(context.Background(), first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.GetRule(context.Background(), second)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range []*rule.Rule{a, b} {
		if !r.CreatedAt.Equal(r.CreatedAt.Truncate(time.Millisecond)) {
			t.Fatalf("stamp %s carries sub-millisecond precision", r.CreatedAt.Format(time.RFC3339Nano))
		}
	}
	if gap := b.CreatedAt.Sub(a.CreatedAt); gap < time.Millisecond {
		t.Fatalf("expected stamps at least 1ms apart, got %s", gap)
	}
	if d := mustEvaluate(t, eng, &Request{Key: "p.events.add", RequesterID: "u1"}); d.RuleID != second {
		t.Fatalf("expected second rule to win, got %s", d.RuleID)
	}
}

func TestTieBreakIdenticalTimestampsUsesID(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a := &rule.Rule{ID: id.NewRuleID(), Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: true, CreatedAt: t0}
	b := &rule.Rule{ID: id.NewRuleID(), Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: false, CreatedAt: t0}
	for _, r := range []*rule.Rule{a, b} {
		if err := s.CreateRule(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	eng, err := NewEngine(WithStore(s))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}

	want := a
	if b.ID.Compare(a.ID) > 0 {
		want = b
	}
	for range 5 {
		d := mustEvaluate(t, eng, &Request{Key: "p.events.add", RequesterID: "u1"})
		if d.RuleID != want.ID {
			t.Fatalf("expected %s to win, got %s", want.ID, d.RuleID)
		}
	}
}

// ──────────────────────────────────────────────────
// Scenarios
// ──────────────────────────────────────────────────

func TestScenarioGuildAdmins(t *testing.T) {
	eng, _, _ := newTestEngine(t, WithDefaults(NewDefaultTable(map[string]bool{"p.roles.bind": false})))
	mustAdd(t, eng, &rule.Rule{Key: "p.roles.bind", Scope: rule.ScopeGuild, ScopeID: "G1", Target: rule.Admins(), Allowed: true})

	d := mustEvaluate(t, eng, &Request{Key: "p.roles.bind", RequesterID: "u1", GuildID: "G1", ChannelID: "C1", IsAdmin: true})
	if !d.Allowed || d.Reason != ReasonMatchedRule {
		t.Fatalf("admin in G1: expected matched allow, got %+v", d)
	}

	d = mustEvaluate(t, eng, &Request{Key: "p.roles.bind", RequesterID: "u1", GuildID: "G2", ChannelID: "C9", IsAdmin: true})
	if d.Allowed || d.Reason != ReasonDefault {
		t.Fatalf("admin in G2: expected default deny, got %+v", d)
	}

	d = mustEvaluate(t, eng, &Request{Key: "p.roles.bind", RequesterID: "u2", GuildID: "G1", ChannelID: "C1"})
	if d.Allowed {
		t.Fatal("non-admin in G1 should fall through to default deny")
	}
}

func TestScenarioChannelBeatsGuild(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	mustAdd(t, eng, &rule.Rule{Key: "p.state.post", Scope: rule.ScopeGuild, ScopeID: "G1", Target: rule.All(), Allowed: false})
	mustAdd(t, eng, &rule.Rule{Key: "p.state.post", Scope: rule.ScopeChannel, ScopeID: "C1", Target: rule.Role("R1"), Allowed: true})

	d := mustEvaluate(t, eng, &Request{Key: "p.state.post", RequesterID: "u1", RoleIDs: []string{"R1"}, GuildID: "G1", ChannelID: "C1"})
	if !d.Allowed {
		t.Fatal("role holder in C1 should be allowed")
	}

	d = mustEvaluate(t, eng, &Request{Key: "p.state.post", RequesterID: "u1", RoleIDs: []string{"R1"}, GuildID: "G1", ChannelID: "C2"})
	if d.Allowed || d.Reason != ReasonMatchedRule {
		t.Fatalf("role holder in C2 should hit the guild deny, got %+v", d)
	}
}

func TestScenarioLaterRuleWins(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	mustAdd(t, eng, &rule.Rule{Key: "p.state.post", Scope: rule.ScopeGuild, ScopeID: "G1", Target: rule.Role("R1"), Allowed: false})
	clk.Advance(time.Hour)
	mustAdd(t, eng, &rule.Rule{Key: "p.state.post", Scope: rule.ScopeGuild, ScopeID: "G1", Target: rule.Role("R1"), Allowed: true})

	d := mustEvaluate(t, eng, &Request{Key: "p.state.post", RequesterID: "u1", RoleIDs: []string{"R1"}, GuildID: "G1", ChannelID: "C1"})
	if !d.Allowed {
		t.Fatal("later rule should win")
	}
}

func TestDirectMessagesOnlyMatchGlobal(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: false})
	mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeChannel, ScopeID: "dm1", Target: rule.All(), Allowed: true})
	mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.Admins(), Allowed: true})

	d := mustEvaluate(t, eng, &Request{Key: "p.events.add", RequesterID: "u1", ChannelID: "dm1", IsAdmin: true})
	if d.Allowed {
		t.Fatalf("DM should only match the global All rule, got %+v", d.Rule)
	}
}

// ──────────────────────────────────────────────────
// Rule writes
// ──────────────────────────────────────────────────

func TestAddRuleValidation(t *testing.T) {
	tests := []struct {
		name  string
		rule  *rule.Rule
		field string
	}{
		{"nil", nil, "rule"},
		{"empty key", &rule.Rule{Scope: rule.ScopeGlobal, Target: rule.All()}, "key"},
		{"malformed key", &rule.Rule{Key: "events.add", Scope: rule.ScopeGlobal, Target: rule.All()}, "key"},
		{"wildcard key", &rule.Rule{Key: "p.events.*", Scope: rule.ScopeGlobal, Target: rule.All()}, "key"},
		{"unknown scope", &rule.Rule{Key: "p.events.add", Scope: "server", Target: rule.All()}, "scope"},
		{"guild without id", &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGuild, Target: rule.All()}, "scope_id"},
		{"channel without id", &rule.Rule{Key: "p.events.add", Scope: rule.ScopeChannel, Target: rule.All()}, "scope_id"},
		{"unknown target", &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.Target{Kind: "everyone"}}, "target.kind"},
		{"role without id", &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.Target{Kind: rule.TargetRole}}, "target.id"},
		{"user without id", &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.Target{Kind: rule.TargetUser}}, "target.id"},
		{"separator in key", &rule.Rule{Key: "p.events.a|b", Scope: rule.ScopeGlobal, Target: rule.All()}, "key"},
		{"separator in scope id", &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGuild, ScopeID: "g1|user", Target: rule.Role("r1")}, "scope_id"},
		{"separator in target id", &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.User("role|r1")}, "target.id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, s, _ := newTestEngine(t)
			_, err := eng.AddRule(context.Background(), tt.rule, SystemCaller())
			if !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("expected ErrInvalidRule, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("expected validation error on %q, got %v", tt.field, err)
			}
			if n, _ := s.CountRules(context.Background(), nil); n != 0 {
				t.Fatalf("rejected rule was stored (%d rules)", n)
			}
			if eng.RuleCount() != 0 {
				t.Fatal("rejected rule was indexed")
			}
		})
	}
}

func TestAddRuleNormalizesAndStamps(t *testing.T) {
	eng, s, _ := newTestEngine(t)
	in := &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, ScopeID: "ignored", Target: rule.Target{Kind: rule.TargetAll, ID: "ignored"}, Allowed: true}
	ruleID, err := eng.AddRule(context.Background(), in, &Caller{ID: "op", IsBotOwner: true})
	if err != nil {
		t.Fatal(err)
	}
	if !in.ID.IsNil() || in.ScopeID != "ignored" {
		t.Fatal("AddRule must not modify its argument")
	}

	got, err := s.GetRule(context.Background(), ruleID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ScopeID != "" || got.Target.ID != "" {
		t.Fatalf("expected normalized rule, got %+v", got)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Fatalf("expected createdAt %v, got %v", t0, got.CreatedAt)
	}
	if got.CreatedBy != "op" {
		t.Fatalf("expected created_by op, got %q", got.CreatedBy)
	}
}

func TestAddRuleCapabilityDenied(t *testing.T) {
	eng, s, _ := newTestEngine(t)
	caller := &Caller{ID: "mod", GuildID: "g1", IsGuildAdmin: true}

	_, err := eng.AddRule(context.Background(), &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All()}, caller)
	if !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("expected ErrCapabilityDenied, got %v", err)
	}
	if n, _ := s.CountRules(context.Background(), nil); n != 0 {
		t.Fatal("denied rule was stored")
	}

	if _, err := eng.AddRule(context.Background(), &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.All()}, caller); err != nil {
		t.Fatalf("guild admin should write guild rules: %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	eng, _, _ := newTestEngine(t, WithBotOwners("op"))

	guildAll := &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.All()}
	guildAdmins := &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.Admins()}
	guildOwners := &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.BotOwners()}
	channelRole := &rule.Rule{Key: "p.events.add", Scope: rule.ScopeChannel, ScopeID: "c1", Target: rule.Role("r1")}
	global := &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All()}

	tests := []struct {
		name   string
		rule   *rule.Rule
		caller *Caller
		ok     bool
	}{
		{"nil caller", guildAll, nil, false},
		{"bot owner flag global", global, &Caller{ID: "x", IsBotOwner: true}, true},
		{"bot owner list global", global, &Caller{ID: "op"}, true},
		{"guild owner global", global, &Caller{ID: "x", GuildID: "g1", IsGuildOwner: true}, false},
		{"guild owner guild", guildAll, &Caller{ID: "x", GuildID: "g1", IsGuildOwner: true}, true},
		{"guild admin guild", guildAll, &Caller{ID: "x", GuildID: "g1", IsGuildAdmin: true}, true},
		{"guild admin other guild", guildAll, &Caller{ID: "x", GuildID: "g2", IsGuildAdmin: true}, false},
		{"member guild", guildAll, &Caller{ID: "x", GuildID: "g1"}, false},
		{"guild admin admins target", guildAdmins, &Caller{ID: "x", GuildID: "g1", IsGuildAdmin: true}, false},
		{"guild owner bot owners target", guildOwners, &Caller{ID: "x", GuildID: "g1", IsGuildOwner: true}, false},
		{"bot owner admins target", guildAdmins, &Caller{ID: "op"}, true},
		{"channel manager", channelRole, &Caller{ID: "x", ChannelID: "c1", CanManageChannel: true}, true},
		{"channel manager other channel", channelRole, &Caller{ID: "x", ChannelID: "c2", CanManageChannel: true}, false},
		{"guild admin channel without manage", channelRole, &Caller{ID: "x", GuildID: "g1", IsGuildAdmin: true, ChannelID: "c1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.Authorize(tt.rule, tt.caller)
			if tt.ok && err != nil {
				t.Fatalf("expected authorized, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrCapabilityDenied) {
				t.Fatalf("expected ErrCapabilityDenied, got %v", err)
			}
		})
	}
}

func TestAddRuleStorageFailure(t *testing.T) {
	fs := &failingStore{Store: memory.New()}
	eng, err := NewEngine(WithStore(fs))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	fs.createErr = errors.New("disk full")

	ruleID, err := eng.AddRule(context.Background(), &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: false}, nil)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if !ruleID.IsNil() {
		t.Fatal("failed write must not report a rule ID")
	}
	if eng.RuleCount() != 0 {
		t.Fatal("failed write must not reach the index")
	}
	d := mustEvaluate(t, eng, &Request{Key: "p.events.add", RequesterID: "u1"})
	if d.Reason != ReasonDefault || !d.Allowed {
		t.Fatalf("expected untouched default decision, got %+v", d)
	}
}

func TestReadYourWrites(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	req := &Request{Key: "p.reminder.delete", RequesterID: "u1", GuildID: "g1", ChannelID: "c1"}

	if d := mustEvaluate(t, eng, req); d.Allowed {
		t.Fatal("expected default deny")
	}
	ruleID := mustAdd(t, eng, &rule.Rule{Key: "p.reminder.delete", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.User("u1"), Allowed: true})
	d := mustEvaluate(t, eng, req)
	if !d.Allowed || d.RuleID != ruleID {
		t.Fatalf("write not visible to next evaluation: %+v", d)
	}
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	eng, s, _ := newTestEngine(t)

	external := &rule.Rule{ID: id.NewRuleID(), Key: "p.events.setcalendar", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: true, CreatedAt: t0}
	if err := s.CreateRule(ctx, external); err != nil {
		t.Fatal(err)
	}
	req := &Request{Key: "p.events.setcalendar", RequesterID: "u1"}
	if d := mustEvaluate(t, eng, req); d.Allowed {
		t.Fatal("external write should be invisible before reload")
	}
	if err := eng.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if d := mustEvaluate(t, eng, req); !d.Allowed {
		t.Fatal("external write should be visible after reload")
	}

	if err := s.DeleteRule(ctx, external.ID); err != nil {
		t.Fatal(err)
	}
	if err := eng.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if d := mustEvaluate(t, eng, req); d.Allowed {
		t.Fatal("deleted rule should be gone after reload")
	}
}

func TestReloadDoesNotDropConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	gs := &gatedStore{Store: memory.New(), listed: make(chan struct{}), release: make(chan struct{})}
	eng, err := NewEngine(WithStore(gs))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}

	gs.armed.Store(true)
	reloadDone := make(chan error, 1)
	go func() { reloadDone <- eng.Reload(ctx) }()
	<-gs.listed

	addDone := make(chan error, 1)
	go func() {
		_, err := eng.AddRule(ctx, &rule.Rule{Key: "p.reminder.delete", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: true}, SystemCaller())
		addDone <- err
	}()

	// Give the write a chance to slip in while the reload holds a stale listing.
	select {
	case err := <-addDone:
		addDone <- err
	case <-time.After(50 * time.Millisecond):
	}
	close(gs.release)

	if err := <-reloadDone; err != nil {
		t.Fatal(err)
	}
	if err := <-addDone; err != nil {
		t.Fatal(err)
	}
	if eng.RuleCount() != 1 {
		t.Fatalf("expected 1 indexed rule, got %d", eng.RuleCount())
	}
	d := mustEvaluate(t, eng, &Request{Key: "p.reminder.delete", RequesterID: "u1"})
	if !d.Allowed || d.Reason != ReasonMatchedRule {
		t.Fatalf("committed rule lost by reload: %+v", d)
	}
}

func TestReloadFailureKeepsIndex(t *testing.T) {
	fs := &failingStore{Store: memory.New()}
	eng, err := NewEngine(WithStore(fs))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All(), Allowed: false})

	fs.listErr = errors.New("unreachable")
	if err := eng.Reload(context.Background()); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if eng.RuleCount() != 1 {
		t.Fatal("failed reload must keep the previous index")
	}
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

func TestEffective(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	mustAdd(t, eng, &rule.Rule{Key: "p.roles.bind", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.Admins(), Allowed: true})
	mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeChannel, ScopeID: "c1", Target: rule.All(), Allowed: false})
	mustAdd(t, eng, &rule.Rule{Key: "p.dice.roll", Scope: rule.ScopeGuild, ScopeID: "g2", Target: rule.All(), Allowed: true})

	got, err := eng.Effective(context.Background(), &Request{RequesterID: "u1", GuildID: "g1", ChannelID: "c1", IsAdmin: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 effective permissions, got %d", len(got))
	}
	if got[0].Key != "p.events.add" || got[0].Allowed {
		t.Fatalf("unexpected first decision %+v", got[0])
	}
	if got[1].Key != "p.roles.bind" || !got[1].Allowed {
		t.Fatalf("unexpected second decision %+v", got[1])
	}

	owner, err := eng.Effective(context.Background(), &Request{RequesterID: "op", IsBotOwner: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(owner) != 3 {
		t.Fatalf("expected every key for a bot owner, got %d", len(owner))
	}
	for _, d := range owner {
		if !d.Allowed || d.Reason != ReasonBotOwnerOverride {
			t.Fatalf("expected override for %s", d.Key)
		}
	}
}

func TestEnforce(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	err := eng.Enforce(context.Background(), &Request{Key: "p.management.restart", RequesterID: "u1"})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if err := eng.Enforce(context.Background(), &Request{Key: "p.events.add", RequesterID: "u1"}); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	ok, err := eng.Allowed(context.Background(), &Request{Key: "p.roles.list", RequesterID: "u1"})
	if err != nil || !ok {
		t.Fatalf("expected allowed, got %v %v", ok, err)
	}
}

func TestGetAndListRules(t *testing.T) {
	ctx := context.Background()
	eng, _, clk := newTestEngine(t)
	first := mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGlobal, Target: rule.All()})
	clk.Advance(time.Second)
	mustAdd(t, eng, &rule.Rule{Key: "p.events.add", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.All()})
	mustAdd(t, eng, &rule.Rule{Key: "p.roles.bind", Scope: rule.ScopeGuild, ScopeID: "g1", Target: rule.All()})

	got, err := eng.GetRule(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if got.Scope != rule.ScopeGlobal {
		t.Fatalf("unexpected rule %+v", got)
	}
	if _, err := eng.GetRule(ctx, id.NewRuleID()); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}

	list, total, err := eng.ListRules(ctx, &rule.ListFilter{Key: "p.events.add", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || total != 2 {
		t.Fatalf("expected 1 of 2 rules, got %d of %d", len(list), total)
	}
	if list[0].ID != first {
		t.Fatal("expected oldest rule first")
	}
}

// ──────────────────────────────────────────────────
// Concurrency
// ──────────────────────────────────────────────────

func TestConcurrentEvaluateAndAddRule(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	const writers, perWriter, readers = 4, 25, 8
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter+readers)

	for w := range writers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWriter {
				_, err := eng.AddRule(ctx, &rule.Rule{
					Key:     "p.events.add",
					Scope:   rule.ScopeGuild,
					ScopeID: fmt.Sprintf("g%d", w),
					Target:  rule.User(fmt.Sprintf("u%d", i)),
					Allowed: true,
				}, nil)
				if err != nil {
					errs <- err
				}
			}
		}(w)
	}
	for r := range readers {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := range 200 {
				req := &Request{Key: "p.events.add", RequesterID: fmt.Sprintf("u%d", i%perWriter), GuildID: fmt.Sprintf("g%d", r%writers)}
				if _, err := eng.Evaluate(ctx, req); err != nil {
					errs <- err
					return
				}
			}
		}(r)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	if got := eng.RuleCount(); got != writers*perWriter {
		t.Fatalf("expected %d rules, got %d", writers*perWriter, got)
	}
	stamps := make(map[time.Time]bool)
	for _, r := range eng.Rules("p.events.add") {
		if stamps[r.CreatedAt] {
			t.Fatalf("duplicate creation stamp %v", r.CreatedAt)
		}
		stamps[r.CreatedAt] = true
	}
}
