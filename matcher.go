package bastion

import (
	"fmt"

	"github.com/xraph/bastion/rule"
)

// Specificity is the rank of an applying rule. Higher is more specific.
// Scope is compared first, target second.
type Specificity struct {
	Scope  int `json:"scope"`
	Target int `json:"target"`
}

// Compare returns -1, 0 or +1 as s ranks below, equal to, or above o.
func (s Specificity) Compare(o Specificity) int {
	if s.Scope != o.Scope {
		return cmpInt(s.Scope, o.Scope)
	}
	return cmpInt(s.Target, o.Target)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// MatchResult reports whether a rule applies to a request and how
// specific it is.
type MatchResult struct {
	Applies     bool
	Specificity Specificity
}

// Ranking assigns a specificity rank to every scope and target kind.
// Higher ranks win. The resolver only consults the table, so precedence
// can change without touching resolution.
type Ranking struct {
	Scope  map[rule.Scope]int      `json:"scope"`
	Target map[rule.TargetKind]int `json:"target"`
}

var defaultRanking = Ranking{
	Scope: map[rule.Scope]int{
		rule.ScopeChannel: 3,
		rule.ScopeGuild:   2,
		rule.ScopeGlobal:  1,
	},
	Target: map[rule.TargetKind]int{
		rule.TargetUser:      5,
		rule.TargetRole:      4,
		rule.TargetAdmins:    3,
		rule.TargetBotOwners: 2,
		rule.TargetAll:       1,
	},
}

// DefaultRanking returns the standard ranking: Channel > Guild > Global
// and User > Role > Admins > BotOwners > All.
func DefaultRanking() Ranking {
	r := Ranking{
		Scope:  make(map[rule.Scope]int, len(defaultRanking.Scope)),
		Target: make(map[rule.TargetKind]int, len(defaultRanking.Target)),
	}
	for k, v := range defaultRanking.Scope {
		r.Scope[k] = v
	}
	for k, v := range defaultRanking.Target {
		r.Target[k] = v
	}
	return r
}

// Validate checks that every scope and target kind has a positive rank.
func (rk Ranking) Validate() error {
	for _, s := range []rule.Scope{rule.ScopeGlobal, rule.ScopeGuild, rule.ScopeChannel} {
		if rk.Scope[s] <= 0 {
			return fmt.Errorf("%w: scope %q has no rank", ErrInvalidRanking, s)
		}
	}
	for _, k := range []rule.TargetKind{rule.TargetAll, rule.TargetRole, rule.TargetUser, rule.TargetAdmins, rule.TargetBotOwners} {
		if rk.Target[k] <= 0 {
			return fmt.Errorf("%w: target %q has no rank", ErrInvalidRanking, k)
		}
	}
	return nil
}

// Match decides whether r applies to req using the default ranking.
func Match(r *rule.Rule, req *Request) MatchResult {
	return defaultRanking.Match(r, req)
}

// Match decides whether r applies to req. A rule applies when its key
// equals the request key exactly and both its scope and its target apply.
func (rk Ranking) Match(r *rule.Rule, req *Request) MatchResult {
	if r.Key != req.Key || !scopeApplies(r, req) || !targetApplies(r, req) {
		return MatchResult{}
	}
	return MatchResult{
		Applies: true,
		Specificity: Specificity{
			Scope:  rk.Scope[r.Scope],
			Target: rk.Target[r.Target.Kind],
		},
	}
}

// scopeApplies reports whether the request location lies inside the
// rule's scope. Direct messages only fall inside Global.
func scopeApplies(r *rule.Rule, req *Request) bool {
	switch r.Scope {
	case rule.ScopeGlobal:
		return true
	case rule.ScopeGuild:
		return !req.InDM() && req.GuildID == r.ScopeID
	case rule.ScopeChannel:
		return !req.InDM() && req.ChannelID != "" && req.ChannelID == r.ScopeID
	}
	return false
}

func targetApplies(r *rule.Rule, req *Request) bool {
	switch r.Target.Kind {
	case rule.TargetAll:
		return true
	case rule.TargetRole:
		return r.Target.ID != "" && req.hasRole(r.Target.ID)
	case rule.TargetUser:
		return r.Target.ID != "" && req.RequesterID == r.Target.ID
	case rule.TargetAdmins:
		// Administrator capability only exists inside a guild.
		return req.IsAdmin && !req.InDM()
	case rule.TargetBotOwners:
		return req.IsBotOwner
	}
	return false
}
