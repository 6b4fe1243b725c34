package api

import "github.com/xraph/bastion/rule"

// DecisionResponse is the outcome of an evaluation.
type DecisionResponse struct {
	Key        string     `json:"key" description:"Permission key"`
	Allowed    bool       `json:"allowed" description:"Whether the request is allowed"`
	Reason     string     `json:"reason" description:"Decision source (bot_owner_override, matched_rule, default)"`
	Rule       *rule.Rule `json:"rule,omitempty" description:"Deciding rule when reason is matched_rule"`
	Detail     string     `json:"detail,omitempty" description:"Human-readable detail"`
	EvalTimeNs int64      `json:"eval_time_ns" description:"Evaluation time in nanoseconds"`
}

// EffectiveResponse lists the permissions decided by stored rules.
type EffectiveResponse struct {
	Permissions []DecisionResponse `json:"permissions" description:"Decisions ordered by key"`
}

// DefaultsResponse lists the default table.
type DefaultsResponse struct {
	Entries map[string]bool `json:"entries" description:"Exact keys and plugin prefixes with their default"`
}

// ReloadResponse reports a rebuilt index.
type ReloadResponse struct {
	Count int `json:"count" description:"Rules in the rebuilt index"`
}

// ListResponse wraps a list of items with pagination metadata.
type ListResponse[T any] struct {
	Items  []T   `json:"items" description:"List of items"`
	Total  int64 `json:"total" description:"Total count"`
	Limit  int   `json:"limit" description:"Page size"`
	Offset int   `json:"offset" description:"Page offset"`
}
