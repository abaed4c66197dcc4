// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
)

// fakeStore is an in-memory stand-in for the business tables: it serves row
// metadata and row fetches the way the access-control layer's queries would,
// with soft-deleted rows invisible to metadata.
type fakeStore struct {
	mu   sync.Mutex
	data map[string]map[string]*fakeRow // table -> id -> row
}

type fakeRow struct {
	version int64
	value   json.RawMessage
	deleted bool
}

func newFakeStore(tables ...string) *fakeStore {
	data := make(map[string]map[string]*fakeRow, len(tables))
	for _, table := range tables {
		data[table] = make(map[string]*fakeRow)
	}
	return &fakeStore{data: data}
}

// put inserts the row at version 1 or bumps its version, mirroring the
// version contract every synced table must honor.
func (f *fakeStore) put(table, id, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.data[table][id]
	if !ok {
		f.data[table][id] = &fakeRow{version: 1, value: json.RawMessage(value)}
		return
	}
	row.version++
	row.value = json.RawMessage(value)
	row.deleted = false
}

func (f *fakeStore) softDelete(table, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.data[table][id]; ok {
		row.deleted = true
	}
}

func (f *fakeStore) syncedTable(name string) SyncedTable {
	return SyncedTable{
		Name: name,
		Metadata: func(ctx context.Context, actor Actor) ([]RowMeta, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			var meta []RowMeta
			for id, row := range f.data[name] {
				if row.deleted {
					continue
				}
				meta = append(meta, RowMeta{ID: id, Version: row.version})
			}
			sort.Slice(meta, func(i, j int) bool { return meta[i].ID < meta[j].ID })
			return meta, nil
		},
		FetchRows: func(ctx context.Context, actor Actor, ids []string) ([]RowData, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			var rows []RowData
			for _, id := range ids {
				row, ok := f.data[name][id]
				if !ok || row.deleted {
					continue
				}
				rows = append(rows, RowData{ID: id, Value: row.value})
			}
			return rows, nil
		},
	}
}

// recordingMutator records dispatched args and optionally fails every call.
type recordingMutator struct {
	mu    sync.Mutex
	name  string
	calls []json.RawMessage
	err   error
}

func (m *recordingMutator) Name() string { return m.name }

func (m *recordingMutator) Apply(ctx context.Context, actor Actor, args json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, args)
	return m.err
}

func (m *recordingMutator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestService(t *testing.T, store *fakeStore, notifier Notifier, mutators ...Mutator) (*SyncService, *MemoryRegistry) {
	t.Helper()

	registry := NewMemoryRegistry()
	var tables []SyncedTable
	for name := range store.data {
		tables = append(tables, store.syncedTable(name))
	}

	svc, err := NewSyncService(registry, registry, notifier, &ServiceConfig{
		Tables:   tables,
		Mutators: mutators,
	}, slog.Default())
	if err != nil {
		t.Fatalf("failed to create sync service: %v", err)
	}
	return svc, registry
}

func mustArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal args: %v", err)
	}
	return data
}

// patchKeys extracts op/key pairs for compact assertions.
func patchKeys(patch []PatchOperation) []string {
	keys := make([]string, 0, len(patch))
	for _, op := range patch {
		if op.Op == OpClear {
			keys = append(keys, OpClear)
			continue
		}
		keys = append(keys, fmt.Sprintf("%s:%s", op.Op, op.Key))
	}
	return keys
}
