// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import "time"

// Protocol version constants for pull and push requests
const (
	PullVersion = 1
	PushVersion = 1
)

// Patch operation constants for pull responses
const (
	OpClear = "clear"
	OpPut   = "put"
	OpDel   = "del"
)

// ClientsTableName is the reserved CVR table name for the sync client
// registry. Client rows are metadata-only: the entry version is the client's
// last applied mutation id, so changed entries feed lastMutationIDChanges
// instead of the patch.
const ClientsTableName = "clients"

const (
	// DBTransactionMaxRetries bounds immediate retries of transactions aborted
	// by serialization failures or deadlocks.
	DBTransactionMaxRetries = 10

	// DBTransactionRowLimit caps rows touched per statement inside a single
	// transaction. Row fetches and registry sweeps are chunked to stay under it.
	DBTransactionRowLimit = 1000

	// DefaultFetchChunkSize is the per-query id chunk used when fetching
	// changed rows during pull.
	DefaultFetchChunkSize = 200

	// DefaultRegistryLifetime is how long idle client groups, clients and
	// client views are kept before the sweep removes them.
	DefaultRegistryLifetime = 14 * 24 * time.Hour
)
