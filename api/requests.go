package api

// ──────────────────────────────────────────────────
// Evaluation requests
// ──────────────────────────────────────────────────

// EvaluateRequest describes one invocation attempt. The chat adapter
// resolves the requester's roles and capabilities before calling.
type EvaluateRequest struct {
	Key         string   `json:"key" description:"Permission key (p.<plugin>.<feature>)"`
	RequesterID string   `json:"requester_id" description:"Invoking user ID"`
	RoleIDs     []string `json:"role_ids,omitempty" description:"Role IDs the requester holds in the guild"`
	GuildID     string   `json:"guild_id,omitempty" description:"Guild ID; empty for a direct message"`
	ChannelID   string   `json:"channel_id,omitempty" description:"Channel ID"`
	IsAdmin     bool     `json:"is_admin,omitempty" description:"Requester administers the guild"`
	IsBotOwner  bool     `json:"is_bot_owner,omitempty" description:"Requester operates the bot"`
}

// EffectiveRequest is the body for listing every permission a requester
// holds through stored rules. The key field is ignored.
type EffectiveRequest = EvaluateRequest

// ──────────────────────────────────────────────────
// Rule requests
// ──────────────────────────────────────────────────

// CallerRequest carries the capabilities of whoever writes a rule, as
// resolved by the chat adapter.
type CallerRequest struct {
	ID               string `json:"id,omitempty" description:"Caller user ID (defaults to the authenticated user)"`
	IsBotOwner       bool   `json:"is_bot_owner,omitempty" description:"Caller operates the bot"`
	GuildID          string `json:"guild_id,omitempty" description:"Guild the caller acts in"`
	IsGuildOwner     bool   `json:"is_guild_owner,omitempty" description:"Caller owns the guild"`
	IsGuildAdmin     bool   `json:"is_guild_admin,omitempty" description:"Caller administers the guild"`
	ChannelID        string `json:"channel_id,omitempty" description:"Channel the caller acts in"`
	CanManageChannel bool   `json:"can_manage_channel,omitempty" description:"Caller may manage channel permissions"`
}

// AddRuleRequest is the body for recording a rule.
type AddRuleRequest struct {
	Key        string         `json:"key" description:"Permission key (p.<plugin>.<feature>)"`
	Scope      string         `json:"scope" description:"Scope (global, guild, channel)"`
	ScopeID    string         `json:"scope_id,omitempty" description:"Guild or channel ID; empty for global"`
	TargetKind string         `json:"target_kind" description:"Target (all, role, user, admins, bot_owners)"`
	TargetID   string         `json:"target_id,omitempty" description:"Role or user ID for role and user targets"`
	Allowed    bool           `json:"allowed" description:"Grant (true) or deny (false)"`
	Caller     *CallerRequest `json:"caller" description:"Capabilities of the writer"`
}

// GetRuleRequest is the path parameter for getting a rule.
type GetRuleRequest struct {
	RuleID string `path:"ruleId" description:"Rule ID"`
}

// ListRulesRequest holds query parameters for listing rules.
type ListRulesRequest struct {
	Key     string `query:"key" description:"Filter by permission key"`
	Scope   string `query:"scope" description:"Filter by scope"`
	ScopeID string `query:"scope_id" description:"Filter by guild or channel ID"`
	Limit   int    `query:"limit" description:"Maximum results (default: 50)"`
	Offset  int    `query:"offset" description:"Results to skip"`
}
