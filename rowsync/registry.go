// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// PgRegistry is the Postgres implementation of Registry. Every method runs on
// the transaction carried in the context; calling one outside a TxRunner
// boundary is a programming error and fails fast.
type PgRegistry struct {
	logger *slog.Logger
}

// NewPgRegistry creates a Postgres-backed registry.
func NewPgRegistry(logger *slog.Logger) *PgRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgRegistry{logger: logger}
}

func requireTx(ctx context.Context) (pgx.Tx, error) {
	tx, ok := TxFromContext(ctx)
	if !ok {
		return nil, errors.New("registry called outside a transaction boundary")
	}
	return tx, nil
}

func (r *PgRegistry) GetClientGroup(ctx context.Context, tenantID, id string) (*ClientGroup, error) {
	tx, err := requireTx(ctx)
	if err != nil {
		return nil, err
	}

	const q = `
SELECT id, tenant_id, user_id, cvr_version, created_at, updated_at
FROM sync.client_groups
WHERE tenant_id = @tenant_id AND id = @id
FOR UPDATE`

	var group ClientGroup
	err = tx.QueryRow(ctx, q, pgx.NamedArgs{"tenant_id": tenantID, "id": id}).Scan(
		&group.ID, &group.TenantID, &group.UserID, &group.CVRVersion,
		&group.CreatedAt, &group.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client group: %w", err)
	}
	return &group, nil
}

func (r *PgRegistry) UpsertClientGroup(ctx context.Context, group *ClientGroup) error {
	tx, err := requireTx(ctx)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO sync.client_groups (id, tenant_id, user_id, cvr_version, created_at, updated_at)
VALUES (@id, @tenant_id, @user_id, @cvr_version, now(), now())
ON CONFLICT (tenant_id, id) DO UPDATE SET
	cvr_version = EXCLUDED.cvr_version,
	updated_at = now()`

	_, err = tx.Exec(ctx, q, pgx.NamedArgs{
		"id":          group.ID,
		"tenant_id":   group.TenantID,
		"user_id":     group.UserID,
		"cvr_version": group.CVRVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert client group: %w", err)
	}
	return nil
}

func (r *PgRegistry) GetClient(ctx context.Context, tenantID, id string) (*Client, error) {
	tx, err := requireTx(ctx)
	if err != nil {
		return nil, err
	}

	const q = `
SELECT id, tenant_id, client_group_id, last_mutation_id, created_at, updated_at
FROM sync.clients
WHERE tenant_id = @tenant_id AND id = @id
FOR UPDATE`

	var client Client
	err = tx.QueryRow(ctx, q, pgx.NamedArgs{"tenant_id": tenantID, "id": id}).Scan(
		&client.ID, &client.TenantID, &client.ClientGroupID, &client.LastMutationID,
		&client.CreatedAt, &client.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return &client, nil
}

func (r *PgRegistry) UpsertClient(ctx context.Context, client *Client) error {
	tx, err := requireTx(ctx)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO sync.clients (id, tenant_id, client_group_id, last_mutation_id, created_at, updated_at)
VALUES (@id, @tenant_id, @client_group_id, @last_mutation_id, now(), now())
ON CONFLICT (tenant_id, id) DO UPDATE SET
	last_mutation_id = EXCLUDED.last_mutation_id,
	updated_at = now()`

	_, err = tx.Exec(ctx, q, pgx.NamedArgs{
		"id":               client.ID,
		"tenant_id":        client.TenantID,
		"client_group_id":  client.ClientGroupID,
		"last_mutation_id": client.LastMutationID,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert client: %w", err)
	}
	return nil
}

func (r *PgRegistry) ListClients(ctx context.Context, tenantID, groupID string) ([]Client, error) {
	tx, err := requireTx(ctx)
	if err != nil {
		return nil, err
	}

	const q = `
SELECT id, tenant_id, client_group_id, last_mutation_id, created_at, updated_at
FROM sync.clients
WHERE tenant_id = @tenant_id AND client_group_id = @client_group_id
ORDER BY id`

	rows, err := tx.Query(ctx, q, pgx.NamedArgs{"tenant_id": tenantID, "client_group_id": groupID})
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var client Client
		if err := rows.Scan(&client.ID, &client.TenantID, &client.ClientGroupID,
			&client.LastMutationID, &client.CreatedAt, &client.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, client)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("failed to list clients: %w", rows.Err())
	}
	return clients, nil
}

func (r *PgRegistry) GetClientView(ctx context.Context, tenantID, groupID string, version int64) (*ClientView, error) {
	tx, err := requireTx(ctx)
	if err != nil {
		return nil, err
	}

	const q = `
SELECT client_group_id, tenant_id, version, record, created_at
FROM sync.client_views
WHERE tenant_id = @tenant_id AND client_group_id = @client_group_id AND version = @version`

	var view ClientView
	var record []byte
	err = tx.QueryRow(ctx, q, pgx.NamedArgs{
		"tenant_id":       tenantID,
		"client_group_id": groupID,
		"version":         version,
	}).Scan(&view.ClientGroupID, &view.TenantID, &view.Version, &record, &view.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client view: %w", err)
	}

	if err := json.Unmarshal(record, &view.Record); err != nil {
		return nil, fmt.Errorf("failed to decode client view record: %w", err)
	}
	return &view, nil
}

func (r *PgRegistry) InsertClientView(ctx context.Context, view *ClientView) error {
	tx, err := requireTx(ctx)
	if err != nil {
		return err
	}

	record, err := json.Marshal(view.Record)
	if err != nil {
		return fmt.Errorf("failed to encode client view record: %w", err)
	}

	const q = `
INSERT INTO sync.client_views (client_group_id, tenant_id, version, record, created_at)
VALUES (@client_group_id, @tenant_id, @version, @record, now())`

	_, err = tx.Exec(ctx, q, pgx.NamedArgs{
		"client_group_id": view.ClientGroupID,
		"tenant_id":       view.TenantID,
		"version":         view.Version,
		"record":          record,
	})
	if err != nil {
		return fmt.Errorf("failed to insert client view: %w", err)
	}
	return nil
}

func (r *PgRegistry) PruneClientViews(ctx context.Context, tenantID, groupID string, cutoff time.Time, keepVersion int64) error {
	tx, err := requireTx(ctx)
	if err != nil {
		return err
	}

	// Bounded delete keeps the statement under the per-transaction row limit;
	// the remainder goes on the next pull.
	const q = `
DELETE FROM sync.client_views
WHERE (tenant_id, client_group_id, version) IN (
	SELECT tenant_id, client_group_id, version
	FROM sync.client_views
	WHERE tenant_id = @tenant_id
		AND client_group_id = @client_group_id
		AND version <> @keep_version
		AND created_at < @cutoff
	ORDER BY version ASC
	LIMIT @row_limit
)`

	tag, err := tx.Exec(ctx, q, pgx.NamedArgs{
		"tenant_id":       tenantID,
		"client_group_id": groupID,
		"keep_version":    keepVersion,
		"cutoff":          cutoff,
		"row_limit":       DBTransactionRowLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to prune client views: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Debug("Pruned expired client views",
			"client_group_id", groupID, "count", tag.RowsAffected())
	}
	return nil
}

func (r *PgRegistry) SweepExpired(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tx, err := requireTx(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 || limit > DBTransactionRowLimit {
		limit = DBTransactionRowLimit
	}

	const selectQ = `
SELECT tenant_id, id
FROM sync.client_groups
WHERE updated_at < @cutoff
ORDER BY updated_at ASC
LIMIT @row_limit`

	rows, err := tx.Query(ctx, selectQ, pgx.NamedArgs{"cutoff": cutoff, "row_limit": limit})
	if err != nil {
		return 0, fmt.Errorf("failed to select expired client groups: %w", err)
	}

	type groupKey struct{ tenantID, id string }
	var expired []groupKey
	for rows.Next() {
		var key groupKey
		if err := rows.Scan(&key.tenantID, &key.id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan expired client group: %w", err)
		}
		expired = append(expired, key)
	}
	rows.Close()
	if rows.Err() != nil {
		return 0, fmt.Errorf("failed to select expired client groups: %w", rows.Err())
	}
	if len(expired) == 0 {
		return 0, nil
	}

	for _, key := range expired {
		args := pgx.NamedArgs{"tenant_id": key.tenantID, "id": key.id}
		if _, err := tx.Exec(ctx,
			`DELETE FROM sync.client_views WHERE tenant_id = @tenant_id AND client_group_id = @id`, args); err != nil {
			return 0, fmt.Errorf("failed to delete client views for expired group: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM sync.clients WHERE tenant_id = @tenant_id AND client_group_id = @id`, args); err != nil {
			return 0, fmt.Errorf("failed to delete clients for expired group: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM sync.client_groups WHERE tenant_id = @tenant_id AND id = @id`, args); err != nil {
			return 0, fmt.Errorf("failed to delete expired client group: %w", err)
		}
	}

	r.logger.Info("Swept expired client groups", "count", len(expired), "cutoff", cutoff)
	return int64(len(expired)), nil
}
