// Package rule defines the permission Rule entity: an allow or deny for one
// permission key, scoped to a location breadth and aimed at an audience.
package rule

import (
	"slices"
	"strings"
	"time"

	"github.com/xraph/bastion/id"
)

// Scope is the location breadth a rule covers.
type Scope string

const (
	// ScopeGlobal matches everywhere, including direct messages.
	ScopeGlobal Scope = "global"

	// ScopeGuild matches any channel inside one guild.
	ScopeGuild Scope = "guild"

	// ScopeChannel matches a single channel.
	ScopeChannel Scope = "channel"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeGuild, ScopeChannel:
		return true
	}
	return false
}

// TargetKind identifies the audience a rule is aimed at.
type TargetKind string

const (
	// TargetAll matches every requester.
	TargetAll TargetKind = "all"

	// TargetRole matches requesters holding a role.
	TargetRole TargetKind = "role"

	// TargetUser matches a single requester.
	TargetUser TargetKind = "user"

	// TargetAdmins matches requesters with administrator capability at the
	// request location.
	TargetAdmins TargetKind = "admins"

	// TargetBotOwners matches requesters on the bot operator list.
	TargetBotOwners TargetKind = "bot_owners"
)

// Valid reports whether k is a known target kind.
func (k TargetKind) Valid() bool {
	switch k {
	case TargetAll, TargetRole, TargetUser, TargetAdmins, TargetBotOwners:
		return true
	}
	return false
}

// NeedsID reports whether targets of this kind carry a role or user ID.
func (k TargetKind) NeedsID() bool {
	return k == TargetRole || k == TargetUser
}

// Target is the audience of a rule. ID is the role or user ID for
// TargetRole and TargetUser and empty otherwise.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

// All returns the everyone target.
func All() Target { return Target{Kind: TargetAll} }

// Role returns a target matching holders of roleID.
func Role(roleID string) Target { return Target{Kind: TargetRole, ID: roleID} }

// User returns a target matching a single user.
func User(userID string) Target { return Target{Kind: TargetUser, ID: userID} }

// Admins returns the location-administrator target.
func Admins() Target { return Target{Kind: TargetAdmins} }

// BotOwners returns the bot-operator target.
func BotOwners() Target { return Target{Kind: TargetBotOwners} }

func (t Target) String() string {
	if t.ID == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + t.ID
}

// Rule is a stored permission rule. Rules are immutable once created; a
// changed intent is recorded as a newer rule.
type Rule struct {
	ID        id.RuleID `json:"id" db:"id"`
	Key       string    `json:"key" db:"key"`
	Scope     Scope     `json:"scope" db:"scope"`
	ScopeID   string    `json:"scope_id,omitempty" db:"scope_id"`
	Target    Target    `json:"target" db:"-"`
	Allowed   bool      `json:"allowed" db:"allowed"`
	CreatedBy string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// StorageKeySep separates the fields of a storage key. Valid rules never
// contain it.
const StorageKeySep = "|"

// StorageKey is the compound key a rule is stored under in key/value
// backends. A newer rule with the same key replaces the older record.
func (r *Rule) StorageKey() string {
	return strings.Join([]string{r.Key, string(r.Scope), r.ScopeID, string(r.Target.Kind), r.Target.ID}, StorageKeySep)
}

// Clone returns a copy of r.
func (r *Rule) Clone() *Rule {
	cp := *r
	return &cp
}

// ListFilter contains filters for listing rules. Empty fields match all.
type ListFilter struct {
	Key     string `json:"key,omitempty"`
	Scope   Scope  `json:"scope,omitempty"`
	ScopeID string `json:"scope_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Matches reports whether r passes the filter's field predicates.
// Pagination is applied by the caller.
func (f *ListFilter) Matches(r *Rule) bool {
	if f == nil {
		return true
	}
	if f.Key != "" && r.Key != f.Key {
		return false
	}
	if f.Scope != "" && r.Scope != f.Scope {
		return false
	}
	if f.ScopeID != "" && r.ScopeID != f.ScopeID {
		return false
	}
	return true
}

// CompareCreation orders rules by creation time, then by ID.
func CompareCreation(a, b *Rule) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return a.ID.Compare(b.ID)
}

// SortByCreation sorts rules oldest first.
func SortByCreation(rules []*Rule) {
	slices.SortFunc(rules, CompareCreation)
}
