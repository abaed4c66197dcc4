// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import "time"

// Database entity models for the sync registry tables. The registry is
// exclusively owned by the sync engine; business rows are read-only inputs.

// ClientGroup represents one logical browser/device sync session cluster. A
// profile may own several clients (tabs) that share a group. UserID is fixed
// at creation; requests from any other user are rejected.
type ClientGroup struct {
	ID         string    `db:"id"`           // Client-generated opaque identifier (UUID)
	TenantID   string    `db:"tenant_id"`    // Owning tenant
	UserID     string    `db:"user_id"`      // Owning user, immutable once created
	CVRVersion int64     `db:"cvr_version"`  // Highest client view version issued to the group
	CreatedAt  time.Time `db:"created_at"`   // Creation timestamp
	UpdatedAt  time.Time `db:"updated_at"`   // Last pull/push touch, drives expiry sweep
}

// Client is one sync endpoint within a client group. ClientGroupID is fixed at
// creation; LastMutationID is the highest mutation id successfully applied.
type Client struct {
	ID             string    `db:"id"`               // Client-generated identifier (UUID)
	TenantID       string    `db:"tenant_id"`        // Owning tenant
	ClientGroupID  string    `db:"client_group_id"`  // Owning group, immutable
	LastMutationID int64     `db:"last_mutation_id"` // Monotonic applied-mutation cursor
	CreatedAt      time.Time `db:"created_at"`       // Creation timestamp
	UpdatedAt      time.Time `db:"updated_at"`       // Last applied mutation, drives expiry sweep
}

// ClientView is a versioned CVR snapshot for a client group. The version is
// the pull cookie; versions form a strictly increasing sequence per group.
type ClientView struct {
	ClientGroupID string           `db:"client_group_id"` // Owning group
	TenantID      string           `db:"tenant_id"`       // Owning tenant
	Version       int64            `db:"version"`         // Matches the pull cookie order
	Record        ClientViewRecord `db:"record"`          // table -> id -> version map (JSON column)
	CreatedAt     time.Time        `db:"created_at"`      // Drives retention pruning
}
