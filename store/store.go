// Package store defines the aggregate persistence interface. The rule
// package defines the rule store contract; the composite Store adds the
// lifecycle operations every backend provides.
// Backends: Postgres, SQLite, MongoDB, JSON file, and Memory.
package store

import (
	"context"

	"github.com/xraph/bastion/rule"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, sqlite, mongo, jsonfile, memory) implements it.
type Store interface {
	rule.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
