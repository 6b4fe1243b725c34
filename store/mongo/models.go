package mongo

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
	ID              string    `grove:"id,pk"          bson:"_id"`
	PermissionKey   string    `grove:"permission_key" bson:"permission_key"`
	Scope           string    `grove:"scope"          bson:"scope"`
	ScopeID         string    `grove:"scope_id"       bson:"scope_id"`
	TargetKind      string    `grove:"target_kind"    bson:"target_kind"`
	TargetID        string    `grove:"target_id"      bson:"target_id"`
	Allowed         bool      `grove:"allowed"        bson:"allowed"`
	CreatedBy       string    `grove:"created_by"     bson:"created_by,omitempty"`
	CreatedAt       time.Time `grove:"created_at"     bson:"created_at"`
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

// ruleFromModel converts a document back into a rule. BSON datetimes carry
// millisecond precision, which is why the engine stamps rules at least one
// millisecond apart.
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
