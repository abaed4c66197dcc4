// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"time"
)

// Registry persists the sync engine's bookkeeping: client groups, clients and
// client views. All methods must be called inside a TxRunner boundary so the
// reads and writes of one pull or push share a transaction snapshot. Lookup
// methods return (nil, nil) when the row does not exist; callers
// default-construct on first contact.
type Registry interface {
	// GetClientGroup loads a group, locking it for update where the backing
	// store supports it.
	GetClientGroup(ctx context.Context, tenantID, id string) (*ClientGroup, error)

	// UpsertClientGroup inserts or updates a group, refreshing its activity
	// timestamp.
	UpsertClientGroup(ctx context.Context, group *ClientGroup) error

	// GetClient loads a client, locking it for update where supported.
	GetClient(ctx context.Context, tenantID, id string) (*Client, error)

	// UpsertClient inserts or updates a client, refreshing its activity
	// timestamp.
	UpsertClient(ctx context.Context, client *Client) error

	// ListClients returns every client belonging to a group.
	ListClients(ctx context.Context, tenantID, groupID string) ([]Client, error)

	// GetClientView loads the CVR snapshot stored at (group, version).
	GetClientView(ctx context.Context, tenantID, groupID string, version int64) (*ClientView, error)

	// InsertClientView appends a new CVR snapshot for a group.
	InsertClientView(ctx context.Context, view *ClientView) error

	// PruneClientViews deletes a group's CVR snapshots created before cutoff,
	// except the one at keepVersion (the snapshot just issued).
	PruneClientViews(ctx context.Context, tenantID, groupID string, cutoff time.Time, keepVersion int64) error

	// SweepExpired deletes client groups idle since before cutoff together
	// with their clients and client views, touching at most limit groups.
	// It returns the number of groups removed.
	SweepExpired(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
