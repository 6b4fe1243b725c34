package bastion

import "github.com/xraph/bastion/rule"

// DefaultTable maps permission keys, or plugin prefixes of them, to the
// decision used when no rule applies. Lookup prefers an exact key, then
// the p.<plugin> prefix, and denies anything else.
type DefaultTable struct {
	entries map[string]bool
}

// NewDefaultTable builds a table from key or prefix entries.
func NewDefaultTable(entries map[string]bool) *DefaultTable {
	t := &DefaultTable{entries: make(map[string]bool, len(entries))}
	for k, v := range entries {
		t.entries[k] = v
	}
	return t
}

// BuiltinDefaults returns the defaults shipped with the bundled plugins.
func BuiltinDefaults() *DefaultTable {
	return NewDefaultTable(map[string]bool{
		"p.userutils.roster":     true,
		"p.serveractivity.track": true,
		"p.serveractivity.view":  true,
		"p.events.add":           true,
		"p.roles.toggle":         true,
		"p.roles.list":           true,

		"p.management.restart":  false,
		"p.management.changevc": false,
		"p.events.setcalendar":  false,
		"p.ironreach.changevc":  false,
		"p.reminder.delete":     false,
		"p.roles.bind":          false,
		"p.moderation.state":    false,
	})
}

// Merge returns a copy of t with overrides applied on top.
func (t *DefaultTable) Merge(overrides map[string]bool) *DefaultTable {
	out := NewDefaultTable(t.entries)
	for k, v := range overrides {
		out.entries[k] = v
	}
	return out
}

// Lookup returns the default for key and the entry that supplied it: the
// exact key, else its p.<plugin> prefix. Malformed keys never match. The
// entry is empty when the fail-closed fallback applied.
func (t *DefaultTable) Lookup(key string) (allowed bool, entry string) {
	if t == nil || rule.ValidateKey(key) != nil {
		return false, ""
	}
	if v, ok := t.entries[key]; ok {
		return v, key
	}
	prefix := rule.KeyPrefix + "." + rule.Plugin(key)
	if v, ok := t.entries[prefix]; ok {
		return v, prefix
	}
	return false, ""
}

// Entries returns a copy of the table entries.
func (t *DefaultTable) Entries() map[string]bool {
	out := make(map[string]bool, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}
