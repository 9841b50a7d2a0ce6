package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the kausality store (PostgreSQL).
var Migrations = migrate.NewGroup("kausality")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_policies",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS kausality_policies (
    id              TEXT PRIMARY KEY,
    cluster_id      TEXT NOT NULL,
    for_group       TEXT NOT NULL DEFAULT '',
    for_kind        TEXT NOT NULL,
    subjects        JSONB NOT NULL DEFAULT '[]',
    initializing    JSONB NOT NULL DEFAULT '{}',
    deleting        JSONB NOT NULL DEFAULT '{}',
    rules           JSONB NOT NULL DEFAULT '[]',
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),

    UNIQUE(cluster_id, for_group, for_kind)
);

CREATE INDEX IF NOT EXISTS idx_kausality_policies_cluster ON kausality_policies (cluster_id);
CREATE INDEX IF NOT EXISTS idx_kausality_policies_kind ON kausality_policies (cluster_id, for_kind);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS kausality_policies`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_upgrade_grants",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS kausality_upgrade_grants (
    id              TEXT PRIMARY KEY,
    cluster_id      TEXT NOT NULL,
    subject         TEXT NOT NULL,
    policies        JSONB NOT NULL DEFAULT '[]',
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),

    UNIQUE(cluster_id, subject)
);

CREATE INDEX IF NOT EXISTS idx_kausality_upgrade_grants_cluster ON kausality_upgrade_grants (cluster_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS kausality_upgrade_grants`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_decision_logs",
			Version: "20240101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS kausality_decision_logs (
    id              TEXT PRIMARY KEY,
    cluster_id      TEXT NOT NULL,
    subject_kind    TEXT NOT NULL,
    subject_name    TEXT NOT NULL,
    object_kind     TEXT NOT NULL,
    object_name     TEXT NOT NULL,
    namespace       TEXT NOT NULL DEFAULT '',
    generation      BIGINT NOT NULL DEFAULT 0,
    phase           TEXT NOT NULL DEFAULT '',
    outcome         TEXT NOT NULL,
    reason          TEXT NOT NULL DEFAULT '',
    allowances      INTEGER NOT NULL DEFAULT 0,
    eval_time_ns    BIGINT NOT NULL DEFAULT 0,
    metadata        JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_kausality_decision_logs_cluster ON kausality_decision_logs (cluster_id);
CREATE INDEX IF NOT EXISTS idx_kausality_decision_logs_object ON kausality_decision_logs (cluster_id, object_kind, object_name);
CREATE INDEX IF NOT EXISTS idx_kausality_decision_logs_created ON kausality_decision_logs (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS kausality_decision_logs`)
				return err
			},
		},
	)
}
