// Package bastion resolves plugin permission checks for a chat bot.
//
// Every feature plugin gates its commands on a permission key of the form
// "p.<plugin>.<feature>". The Engine decides allow or deny for a requester
// at a location by combining the bot operator override, rules scoped to a
// channel, a guild, or everywhere, and a fail-closed default table.
//
//	eng, err := bastion.NewEngine(
//	    bastion.WithStore(memory.New()),
//	)
//	if err := eng.Start(ctx); err != nil { ... }
//	d, err := eng.Evaluate(ctx, &bastion.Request{
//	    Key:         "p.events.add",
//	    RequesterID: "user_123",
//	    GuildID:     "guild_1",
//	    ChannelID:   "chan_9",
//	})
package bastion

import (
	"github.com/xraph/bastion/id"
	"github.com/xraph/bastion/rule"
)

// Request is the input to a permission evaluation. It is built fresh for
// every check from identities the chat platform already resolved.
type Request struct {
	// Key is the permission key being checked.
	Key string `json:"key"`

	// RequesterID is the user making the request.
	RequesterID string `json:"requester_id"`

	// RoleIDs are the roles the requester holds at the location.
	RoleIDs []string `json:"role_ids,omitempty"`

	// GuildID is empty for direct messages.
	GuildID string `json:"guild_id,omitempty"`

	// ChannelID is the channel the request came from.
	ChannelID string `json:"channel_id,omitempty"`

	// IsAdmin reports administrator capability at the request location.
	IsAdmin bool `json:"is_admin,omitempty"`

	// IsBotOwner marks a bot operator.
	IsBotOwner bool `json:"is_bot_owner,omitempty"`
}

// InDM reports whether the request comes from a direct message.
func (r *Request) InDM() bool { return r.GuildID == "" }

func (r *Request) hasRole(roleID string) bool {
	for _, have := range r.RoleIDs {
		if have == roleID {
			return true
		}
	}
	return false
}

// Reason explains how a decision was reached.
type Reason string

const (
	// ReasonBotOwnerOverride means the requester is a bot operator.
	ReasonBotOwnerOverride Reason = "bot_owner_override"

	// ReasonMatchedRule means a stored rule decided the request.
	ReasonMatchedRule Reason = "matched_rule"

	// ReasonDefault means no rule applied and the default table decided.
	ReasonDefault Reason = "default"
)

// Decision is the outcome of a permission evaluation.
type Decision struct {
	Key     string `json:"key"`
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`

	// RuleID and Rule identify the winning rule for ReasonMatchedRule.
	RuleID id.RuleID  `json:"rule_id,omitempty"`
	Rule   *rule.Rule `json:"rule,omitempty"`

	// Specificity is the rank of the winning rule.
	Specificity *Specificity `json:"specificity,omitempty"`

	// Detail is a short human-readable explanation.
	Detail string `json:"detail,omitempty"`

	EvalTimeNs int64 `json:"eval_time_ns"`
}

// clone returns a deep copy of d.
func (d *Decision) clone() *Decision {
	cp := *d
	if d.Rule != nil {
		cp.Rule = d.Rule.Clone()
	}
	if d.Specificity != nil {
		spec := *d.Specificity
		cp.Specificity = &spec
	}
	return &cp
}
