package api

import (
	"errors"
	"testing"

	"github.com/xraph/bastion"
	"github.com/xraph/bastion/rule"
)

func TestDefaultLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 50},
		{-3, 50},
		{20, 20},
		{1000, 1000},
		{5000, 1000},
	}
	for _, tt := range tests {
		if got := defaultLimit(tt.in); got != tt.want {
			t.Fatalf("defaultLimit(%d): expected %d, got %d", tt.in, tt.want, got)
		}
	}
}

func TestMapErrorPassThrough(t *testing.T) {
	if mapError(nil) != nil {
		t.Fatal("nil should map to nil")
	}
	other := errors.New("disk on fire")
	if got := mapError(other); got != other {
		t.Fatalf("unmapped errors should pass through, got %v", got)
	}
	for _, err := range []error{bastion.ErrInvalidRule, bastion.ErrCapabilityDenied, bastion.ErrRuleNotFound} {
		if got := mapError(err); got == nil {
			t.Fatalf("expected %v to map to an HTTP error, got %v", err, got)
		}
	}
}

func TestToRule(t *testing.T) {
	r := toRule(&AddRuleRequest{
		Key:        "p.roles.bind",
		Scope:      "guild",
		ScopeID:    "g1",
		TargetKind: "role",
		TargetID:   "mods",
		Allowed:    true,
	})
	if r.Key != "p.roles.bind" || r.Scope != rule.ScopeGuild || r.ScopeID != "g1" || r.Target != rule.Role("mods") || !r.Allowed {
		t.Fatalf("unexpected rule %+v", r)
	}
	if !r.ID.IsNil() || !r.CreatedAt.IsZero() {
		t.Fatal("identity and timestamp belong to the engine")
	}
}

func TestToRequestAndDecision(t *testing.T) {
	req := toRequest(&EvaluateRequest{
		Key:         "p.events.add",
		RequesterID: "u1",
		RoleIDs:     []string{"r1"},
		GuildID:     "g1",
		ChannelID:   "c1",
		IsAdmin:     true,
	})
	if req.Key != "p.events.add" || req.RequesterID != "u1" || len(req.RoleIDs) != 1 || !req.IsAdmin || req.InDM() {
		t.Fatalf("unexpected request %+v", req)
	}

	d := &bastion.Decision{Key: "p.events.add", Allowed: true, Reason: bastion.ReasonDefault, Detail: "default entry p.events.add", EvalTimeNs: 42}
	resp := toDecisionResponse(d)
	if resp.Reason != "default" || !resp.Allowed || resp.Rule != nil || resp.EvalTimeNs != 42 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestToCaller(t *testing.T) {
	c := toCaller(&CallerRequest{ID: "u1", GuildID: "g1", IsGuildAdmin: true})
	if c.ID != "u1" || c.GuildID != "g1" || !c.IsGuildAdmin || c.IsBotOwner {
		t.Fatalf("unexpected caller %+v", c)
	}
}
