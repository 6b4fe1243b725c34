package bastion

import (
	"slices"

	"github.com/xraph/bastion/rule"
)

// ruleIndex is an immutable snapshot of the stored rules grouped by
// permission key. Writers publish a new snapshot; readers never lock.
type ruleIndex struct {
	revision uint64
	byKey    map[string][]*rule.Rule
	count    int
}

func buildIndex(revision uint64, rules []*rule.Rule) *ruleIndex {
	ix := &ruleIndex{
		revision: revision,
		byKey:    make(map[string][]*rule.Rule),
		count:    len(rules),
	}
	for _, r := range rules {
		ix.byKey[r.Key] = append(ix.byKey[r.Key], r)
	}
	return ix
}

// with returns a new snapshot that also contains r. Slices of other keys
// are shared with the receiver since snapshots are never mutated.
func (ix *ruleIndex) with(r *rule.Rule) *ruleIndex {
	next := &ruleIndex{
		revision: ix.revision + 1,
		byKey:    make(map[string][]*rule.Rule, len(ix.byKey)+1),
		count:    ix.count + 1,
	}
	for k, v := range ix.byKey {
		next.byKey[k] = v
	}
	prev := ix.byKey[r.Key]
	rules := make([]*rule.Rule, len(prev), len(prev)+1)
	copy(rules, prev)
	next.byKey[r.Key] = append(rules, r)
	return next
}

// rulesFor returns the candidate rules for key in no particular order.
func (ix *ruleIndex) rulesFor(key string) []*rule.Rule {
	return ix.byKey[key]
}

// keys returns every indexed permission key, sorted.
func (ix *ruleIndex) keys() []string {
	out := make([]string, 0, len(ix.byKey))
	for k := range ix.byKey {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
