// Package mongo provides a MongoDB implementation of the Bastion composite
// store using grove's mongo driver.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/bastion/id"
	"github.com/xraph/bastion/rule"
	"github.com/xraph/bastion/store"
)

// Collection name constants.
const (
	colRules = "bastion_rules"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of the composite Bastion store.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Migrate creates indexes for all bastion collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("bastion/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all bastion collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colRules: {
			{Keys: bson.D{{Key: "permission_key", Value: 1}}},
			{Keys: bson.D{{Key: "scope", Value: 1}, {Key: "scope_id", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		},
	}
}

// ruleFilter translates a list filter into a query document. Pagination is
// applied separately.
func ruleFilter(filter *rule.ListFilter) bson.M {
	f := bson.M{}
	if filter == nil {
		return f
	}
	if filter.Key != "" {
		f["permission_key"] = filter.Key
	}
	if filter.Scope != "" {
		f["scope"] = string(filter.Scope)
	}
	if filter.ScopeID != "" {
		f["scope_id"] = filter.ScopeID
	}
	return f
}

// ──────────────────────────────────────────────────
// Rule operations
// ──────────────────────────────────────────────────

func (s *Store) CreateRule(ctx context.Context, r *rule.Rule) error {
	if _, err := s.mdb.NewInsert(ruleToModel(r)).Exec(ctx); err != nil {
		return fmt.Errorf("bastion/mongo: create rule: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, ruleID id.RuleID) (*rule.Rule, error) {
	var m ruleModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": ruleID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("rule %s: %w", ruleID, rule.ErrNotFound)
		}
		return nil, fmt.Errorf("bastion/mongo: get rule: %w", err)
	}
	r, err := ruleFromModel(&m)
	if err != nil {
		return nil, fmt.Errorf("bastion/mongo: get rule: %w", err)
	}
	return r, nil
}

func (s *Store) ListRules(ctx context.Context, filter *rule.ListFilter) ([]*rule.Rule, error) {
	var models []ruleModel
	q := s.mdb.NewFind(&models).
		Filter(ruleFilter(filter)).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("bastion/mongo: list rules: %w", err)
	}
	result := make([]*rule.Rule, len(models))
	for i := range models {
		r, err := ruleFromModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("bastion/mongo: list rules: %w", err)
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) CountRules(ctx context.Context, filter *rule.ListFilter) (int64, error) {
	count, err := s.mdb.NewFind((*ruleModel)(nil)).
		Filter(ruleFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("bastion/mongo: count rules: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteRule(ctx context.Context, ruleID id.RuleID) error {
	if _, err := s.GetRule(ctx, ruleID); err != nil {
		return err
	}
	_, err := s.mdb.NewDelete((*ruleModel)(nil)).
		Filter(bson.M{"_id": ruleID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("bastion/mongo: delete rule: %w", err)
	}
	return nil
}
