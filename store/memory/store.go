// Package memory provides an in-memory implementation of the Bastion
// composite store. It is intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/bastion/id"
	"github.com/xraph/bastion/rule"
)

// Compile-time interface check.
var _ rule.Store = (*Store)(nil)

// Store is a thread-safe in-memory store for permission rules.
type Store struct {
	mu    sync.RWMutex
	rules map[string]*rule.Rule
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		rules: make(map[string]*rule.Rule),
	}
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Rule Store
// ──────────────────────────────────────────────────

func (s *Store) CreateRule(_ context.Context, r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.ID.String()
	if _, exists := s.rules[key]; exists {
		return fmt.Errorf("rule %s: already exists", r.ID)
	}
	s.rules[key] = r.Clone()
	return nil
}

func (s *Store) GetRule(_ context.Context, ruleID id.RuleID) (*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[ruleID.String()]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", ruleID, rule.ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *Store) ListRules(_ context.Context, filter *rule.ListFilter) ([]*rule.Rule, error) {
	s.mu.RLock()
	result := make([]*rule.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if !filter.Matches(r) {
			continue
		}
		result = append(result, r.Clone())
	}
	s.mu.RUnlock()

	rule.SortByCreation(result)
	return applyPagination(result, filter), nil
}

func (s *Store) CountRules(_ context.Context, filter *rule.ListFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.rules {
		if filter.Matches(r) {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteRule(_ context.Context, ruleID id.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ruleID.String()
	if _, ok := s.rules[key]; !ok {
		return fmt.Errorf("rule %s: %w", ruleID, rule.ErrNotFound)
	}
	delete(s.rules, key)
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination(items []*rule.Rule, f *rule.ListFilter) []*rule.Rule {
	if f == nil {
		return items
	}
	if f.Offset > 0 && f.Offset < len(items) {
		items = items[f.Offset:]
	} else if f.Offset >= len(items) && f.Offset > 0 {
		return nil
	}
	if f.Limit > 0 && f.Limit < len(items) {
		items = items[:f.Limit]
	}
	return items
}
