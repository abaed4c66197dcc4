// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InitSchema creates the sync registry tables if they don't exist. Safe to
// call on every startup.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return InitSchemaInTx(ctx, tx)
	})
}

// InitSchemaInTx creates the sync registry tables within an existing
// transaction.
func InitSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		// Dedicated schema for sync bookkeeping
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS sync`,

		// 1) Client groups: one row per browser/device session cluster
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS sync.client_groups (
			id          UUID        NOT NULL,
			tenant_id   TEXT        NOT NULL,
			user_id     TEXT        NOT NULL,
			cvr_version BIGINT      NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, id)
		)`,

		// 2) Clients: per-endpoint applied-mutation cursors
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS sync.clients (
			id               UUID        NOT NULL,
			tenant_id        TEXT        NOT NULL,
			client_group_id  UUID        NOT NULL,
			last_mutation_id BIGINT      NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, id)
		)`,

		// 3) Client views: versioned CVR snapshots, one per non-empty pull
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS sync.client_views (
			client_group_id UUID        NOT NULL,
			tenant_id       TEXT        NOT NULL,
			version         BIGINT      NOT NULL,
			record          JSON        NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, client_group_id, version)
		)`,

		// Indexes for group-scoped lookups and the expiry sweep
		`CREATE INDEX IF NOT EXISTS clients_group_idx ON sync.clients(tenant_id, client_group_id)`,
		`CREATE INDEX IF NOT EXISTS client_groups_updated_idx ON sync.client_groups(updated_at)`,
		`CREATE INDEX IF NOT EXISTS client_views_created_idx ON sync.client_views(tenant_id, client_group_id, created_at)`,
	}

	for i, migration := range migrations {
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("sync schema migration %d failed: %w", i, err)
		}
	}
	return nil
}
