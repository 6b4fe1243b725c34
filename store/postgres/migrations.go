package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Bastion store (PostgreSQL).
var Migrations = migrate.NewGroup("bastion")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_rules",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bastion_rules (
    id              TEXT PRIMARY KEY,
    permission_key  TEXT NOT NULL,
    scope           TEXT NOT NULL CHECK (scope IN ('global', 'guild', 'channel')),
    scope_id        TEXT NOT NULL DEFAULT '',
    target_kind     TEXT NOT NULL CHECK (target_kind IN ('all', 'role', 'user', 'admins', 'bot_owners')),
    target_id       TEXT NOT NULL DEFAULT '',
    allowed         BOOLEAN NOT NULL DEFAULT FALSE,
    created_by      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_bastion_rules_key ON bastion_rules (permission_key);
CREATE INDEX IF NOT EXISTS idx_bastion_rules_scope ON bastion_rules (scope, scope_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bastion_rules`)
				return err
			},
		},
	)
}
