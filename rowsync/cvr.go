// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import "sort"

// Client view record (CVR) primitives for the row-version sync strategy.
// A CVR maps each synced table to the id -> version entries the client group
// has been told exist. Everything here is pure and deterministic; the pull
// handler composes these into the incremental diff algorithm.

// RowMeta is one (id, version) pair reported by a table's metadata provider.
type RowMeta struct {
	ID      string
	Version int64
}

// TableMetadata is the full visible (id, version) set for one synced table.
type TableMetadata struct {
	Table string
	Rows  []RowMeta
}

// CVREntries maps entity id to entity version within one table.
type CVREntries map[string]int64

// ClientViewRecord maps table name to its entries.
type ClientViewRecord map[string]CVREntries

// CVRDiffEntry lists the ids a client must receive (puts) or drop (dels) for
// one table.
type CVRDiffEntry struct {
	Puts []string
	Dels []string
}

// CVRDiff maps table name to its put/del id lists.
type CVRDiff map[string]CVRDiffEntry

// BuildCVREntries folds a metadata list into id -> version entries. Last write
// wins on duplicate ids, though providers produce unique ids by construction.
func BuildCVREntries(rows []RowMeta) CVREntries {
	entries := make(CVREntries, len(rows))
	for _, row := range rows {
		entries[row.ID] = row.Version
	}
	return entries
}

// BuildBaseCVR returns the stored prior record verbatim when present,
// otherwise an empty record covering every synced table. An empty base makes
// the first pull diff put every visible row.
func BuildBaseCVR(prior ClientViewRecord, tables []string) ClientViewRecord {
	if prior != nil {
		return prior
	}

	base := make(ClientViewRecord, len(tables))
	for _, table := range tables {
		base[table] = CVREntries{}
	}
	return base
}

// BuildNextCVR folds per-table metadata into a fresh record.
func BuildNextCVR(meta []TableMetadata) ClientViewRecord {
	next := make(ClientViewRecord, len(meta))
	for _, tm := range meta {
		next[tm.Table] = BuildCVREntries(tm.Rows)
	}
	return next
}

// DiffCVR computes per-table puts and dels between two records. An id is a put
// when it is new in next or its next version is strictly greater; it is a del
// when it exists in base but not in next. No id ever lands in both lists, and
// structurally identical records produce an empty diff.
func DiffCVR(base, next ClientViewRecord) CVRDiff {
	diff := make(CVRDiff, len(next))

	for table := range union(base, next) {
		baseEntries := base[table]
		nextEntries := next[table]

		entry := CVRDiffEntry{}
		for id, version := range nextEntries {
			baseVersion, ok := baseEntries[id]
			if !ok || baseVersion < version {
				entry.Puts = append(entry.Puts, id)
			}
		}
		for id := range baseEntries {
			if _, ok := nextEntries[id]; !ok {
				entry.Dels = append(entry.Dels, id)
			}
		}

		// Deterministic ordering keeps patches and tests stable.
		sort.Strings(entry.Puts)
		sort.Strings(entry.Dels)
		diff[table] = entry
	}

	return diff
}

// IsEmpty reports whether the diff contains no puts and no dels.
func (d CVRDiff) IsEmpty() bool {
	for _, entry := range d {
		if len(entry.Puts) > 0 || len(entry.Dels) > 0 {
			return false
		}
	}
	return true
}

func union(a, b ClientViewRecord) map[string]struct{} {
	tables := make(map[string]struct{}, len(a)+len(b))
	for table := range a {
		tables[table] = struct{}{}
	}
	for table := range b {
		tables[table] = struct{}{}
	}
	return tables
}
