// Package jsonfile provides a JSON file implementation of the Bastion
// composite store. Rules live in a single document keyed by their compound
// storage key, the layout the bot keeps in permissions.json. Every write
// replaces the file atomically.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/utils/v4"

	"github.com/xraph/bastion/id"
	"github.com/xraph/bastion/rule"
	"github.com/xraph/bastion/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store keeps every rule in memory and mirrors it to a JSON file.
type Store struct {
	path string
	perm os.FileMode

	mu    sync.RWMutex
	rules map[string]*rule.Rule
}

// Option configures a Store.
type Option func(*Store)

// WithFileMode sets the permission bits of the rule file. Defaults to 0600.
func WithFileMode(perm os.FileMode) Option {
	return func(s *Store) { s.perm = perm }
}

// Open loads the rule file at path. A missing or empty file is an empty
// store; a file that does not decode is an error.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:  path,
		perm:  0o600,
		rules: make(map[string]*rule.Rule),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bastion/jsonfile: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.rules); err != nil {
		return nil, fmt.Errorf("bastion/jsonfile: decode %s: %w", path, err)
	}
	for k, r := range s.rules {
		if r == nil {
			delete(s.rules, k)
		}
	}
	return s, nil
}

// Path returns the rule file location.
func (s *Store) Path() string { return s.path }

// Migrate creates the directory holding the rule file.
func (s *Store) Migrate(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("bastion/jsonfile: create directory: %w", err)
	}
	return nil
}

// Ping reports whether the directory holding the rule file is reachable.
func (s *Store) Ping(_ context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("bastion/jsonfile: ping: %w", err)
	}
	return nil
}

// Close is a no-op; every write is already on disk.
func (s *Store) Close() error { return nil }

// flush writes the current rule set. Callers hold s.mu.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.rules, "", "  ")
	if err != nil {
		return err
	}
	return utils.AtomicWriteFile(s.path, data, s.perm)
}

// ──────────────────────────────────────────────────
// Rule Store
// ──────────────────────────────────────────────────

// CreateRule records r under its storage key. A rule already stored under
// the same key is replaced; on a failed write the previous state is kept.
func (s *Store) CreateRule(_ context.Context, r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.StorageKey()
	prev, hadPrev := s.rules[key]
	s.rules[key] = r.Clone()
	if err := s.flush(); err != nil {
		if hadPrev {
			s.rules[key] = prev
		} else {
			delete(s.rules, key)
		}
		return fmt.Errorf("bastion/jsonfile: create rule: %w", err)
	}
	return nil
}

func (s *Store) GetRule(_ context.Context, ruleID id.RuleID) (*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, r := s.find(ruleID); r != nil {
		return r.Clone(), nil
	}
	return nil, fmt.Errorf("rule %s: %w", ruleID, rule.ErrNotFound)
}

func (s *Store) ListRules(_ context.Context, filter *rule.ListFilter) ([]*rule.Rule, error) {
	s.mu.RLock()
	result := make([]*rule.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if filter.Matches(r) {
			result = append(result, r.Clone())
		}
	}
	s.mu.RUnlock()

	rule.SortByCreation(result)
	return paginate(result, filter), nil
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

	key, r := s.find(ruleID)
	if r == nil {
		return fmt.Errorf("rule %s: %w", ruleID, rule.ErrNotFound)
	}
	delete(s.rules, key)
	if err := s.flush(); err != nil {
		s.rules[key] = r
		return fmt.Errorf("bastion/jsonfile: delete rule: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (s *Store) find(ruleID id.RuleID) (string, *rule.Rule) {
	want := ruleID.String()
	for k, r := range s.rules {
		if r.ID.String() == want {
			return k, r
		}
	}
	return "", nil
}

func paginate(items []*rule.Rule, f *rule.ListFilter) []*rule.Rule {
	if f == nil {
		return items
	}
	if f.Offset > 0 {
		if f.Offset >= len(items) {
			return nil
		}
		items = items[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(items) {
		items = items[:f.Limit]
	}
	return items
}
