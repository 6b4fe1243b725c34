package postgres

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/bastion/id"
	"github.com/xraph/bastion/rule"
)

// ──────────────────────────────────────────────────
// Rule model
// ──────────────────────────────────────────────────

type ruleModel struct {
	grove.BaseModel `grove:"table:bastion_rules"`
	ID              string    `grove:"id,pk"`
	PermissionKey   string    `grove:"permission_key,notnull"`
	Scope           string    `grove:"scope,notnull"`
	ScopeID         string    `grove:"scope_id,notnull"`
	TargetKind      string    `grove:"target_kind,notnull"`
	TargetID        string    `grove:"target_id,notnull"`
	Allowed         bool      `grove:"allowed,notnull"`
	CreatedBy       string    `grove:"created_by"`
	CreatedAt       time.Time `grove:"created_at,notnull"`
}

func ruleToModel(r *rule.Rule) *ruleModel {
	return &ruleModel{
		ID:            r.ID.String(),
		PermissionKey: r.Key,
		Scope:         string(r.Scope),
		ScopeID:       r.ScopeID,
		TargetKind:    string(r.Target.Kind),
		TargetID:      r.Target.ID,
		Allowed:       r.Allowed,
		CreatedBy:     r.CreatedBy,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func ruleFromModel(m *ruleModel) (*rule.Rule, error) {
	rid, err := id.ParseRuleID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse rule id: %w", err)
	}
	return &rule.Rule{
		ID:        rid,
		Key:       m.PermissionKey,
		Scope:     rule.Scope(m.Scope),
		ScopeID:   m.ScopeID,
		Target:    rule.Target{Kind: rule.TargetKind(m.TargetKind), ID: m.TargetID},
		Allowed:   m.Allowed,
		CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}
