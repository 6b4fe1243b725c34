package bastion

import (
	"fmt"

	"github.com/xraph/bastion/rule"
)

// Caller carries the already-resolved capabilities of whoever is writing a
// rule. The engine never queries the chat platform for them.
type Caller struct {
	ID         string `json:"id"`
	IsBotOwner bool   `json:"is_bot_owner,omitempty"`

	// GuildID is the guild the caller is acting in.
	GuildID      string `json:"guild_id,omitempty"`
	IsGuildOwner bool   `json:"is_guild_owner,omitempty"`
	IsGuildAdmin bool   `json:"is_guild_admin,omitempty"`

	// ChannelID is the channel the caller is acting in.
	ChannelID        string `json:"channel_id,omitempty"`
	CanManageChannel bool   `json:"can_manage_channel,omitempty"`
}

// SystemCaller returns a caller with bot operator capability, for
// operator tooling that writes rules directly.
func SystemCaller() *Caller {
	return &Caller{ID: "system", IsBotOwner: true}
}

// Authorize checks that caller may write r.
//
//   - Global scope and Admins or BotOwners targets need a bot owner.
//   - Guild scope needs the owner or an administrator of that guild.
//   - Channel scope needs manage-permissions capability in that channel.
//
// Bot owners may write anything.
func (e *Engine) Authorize(r *rule.Rule, caller *Caller) error {
	if caller == nil {
		return fmt.Errorf("%w: no caller", ErrCapabilityDenied)
	}
	if caller.IsBotOwner || e.isBotOwner(caller.ID) {
		return nil
	}
	if r.Scope == rule.ScopeGlobal {
		return fmt.Errorf("%w: global rules require a bot owner", ErrCapabilityDenied)
	}
	if r.Target.Kind == rule.TargetAdmins || r.Target.Kind == rule.TargetBotOwners {
		return fmt.Errorf("%w: %s targets require a bot owner", ErrCapabilityDenied, r.Target.Kind)
	}
	switch r.Scope {
	case rule.ScopeGuild:
		if caller.GuildID == r.ScopeID && (caller.IsGuildOwner || caller.IsGuildAdmin) {
			return nil
		}
		return fmt.Errorf("%w: guild rules require the guild owner or an administrator of guild %s", ErrCapabilityDenied, r.ScopeID)
	case rule.ScopeChannel:
		if caller.ChannelID == r.ScopeID && caller.CanManageChannel {
			return nil
		}
		return fmt.Errorf("%w: channel rules require manage-permissions in channel %s", ErrCapabilityDenied, r.ScopeID)
	}
	return fmt.Errorf("%w: unknown scope %q", ErrCapabilityDenied, r.Scope)
}
