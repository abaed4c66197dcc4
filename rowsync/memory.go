// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory Registry and TxRunner for tests and
// prototyping. RunTx serializes work under a mutex and restores a snapshot on
// failure, which gives the same all-or-nothing semantics handlers rely on
// from the Postgres implementation.
type MemoryRegistry struct {
	mu     sync.Mutex
	groups map[string]ClientGroup // key tenantID/id
	clits  map[string]Client      // key tenantID/id
	views  map[string]ClientView  // key tenantID/groupID/version
	now    func() time.Time
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		groups: make(map[string]ClientGroup),
		clits:  make(map[string]Client),
		views:  make(map[string]ClientView),
		now:    time.Now,
	}
}

func memKey(parts ...string) string {
	key := parts[0]
	for _, part := range parts[1:] {
		key += "/" + part
	}
	return key
}

// RunTx implements TxRunner. Nested calls run directly in the outer scope.
func (m *MemoryRegistry) RunTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := scopeFromContext(ctx); ok {
		return fn(ctx)
	}

	m.mu.Lock()
	snapshot := m.snapshot()
	scope := &txScope{}
	err := fn(context.WithValue(ctx, txScopeKey{}, scope))
	if err != nil {
		m.restore(snapshot)
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}
	for _, hook := range scope.hooks {
		hook(ctx)
	}
	return nil
}

type memSnapshot struct {
	groups map[string]ClientGroup
	clits  map[string]Client
	views  map[string]ClientView
}

func (m *MemoryRegistry) snapshot() memSnapshot {
	snap := memSnapshot{
		groups: make(map[string]ClientGroup, len(m.groups)),
		clits:  make(map[string]Client, len(m.clits)),
		views:  make(map[string]ClientView, len(m.views)),
	}
	for k, v := range m.groups {
		snap.groups[k] = v
	}
	for k, v := range m.clits {
		snap.clits[k] = v
	}
	for k, v := range m.views {
		v.Record = cloneRecord(v.Record)
		snap.views[k] = v
	}
	return snap
}

func (m *MemoryRegistry) restore(snap memSnapshot) {
	m.groups = snap.groups
	m.clits = snap.clits
	m.views = snap.views
}

func cloneRecord(record ClientViewRecord) ClientViewRecord {
	clone := make(ClientViewRecord, len(record))
	for table, entries := range record {
		cloned := make(CVREntries, len(entries))
		for id, version := range entries {
			cloned[id] = version
		}
		clone[table] = cloned
	}
	return clone
}

func (m *MemoryRegistry) GetClientGroup(ctx context.Context, tenantID, id string) (*ClientGroup, error) {
	group, ok := m.groups[memKey(tenantID, id)]
	if !ok {
		return nil, nil
	}
	return &group, nil
}

func (m *MemoryRegistry) UpsertClientGroup(ctx context.Context, group *ClientGroup) error {
	stored := *group
	key := memKey(group.TenantID, group.ID)
	if prev, ok := m.groups[key]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = m.now()
	}
	stored.UpdatedAt = m.now()
	m.groups[key] = stored
	return nil
}

func (m *MemoryRegistry) GetClient(ctx context.Context, tenantID, id string) (*Client, error) {
	client, ok := m.clits[memKey(tenantID, id)]
	if !ok {
		return nil, nil
	}
	return &client, nil
}

func (m *MemoryRegistry) UpsertClient(ctx context.Context, client *Client) error {
	stored := *client
	key := memKey(client.TenantID, client.ID)
	if prev, ok := m.clits[key]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = m.now()
	}
	stored.UpdatedAt = m.now()
	m.clits[key] = stored
	return nil
}

func (m *MemoryRegistry) ListClients(ctx context.Context, tenantID, groupID string) ([]Client, error) {
	var clients []Client
	for _, client := range m.clits {
		if client.TenantID == tenantID && client.ClientGroupID == groupID {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}

func (m *MemoryRegistry) GetClientView(ctx context.Context, tenantID, groupID string, version int64) (*ClientView, error) {
	view, ok := m.views[memKey(tenantID, groupID, formatVersion(version))]
	if !ok {
		return nil, nil
	}
	view.Record = cloneRecord(view.Record)
	return &view, nil
}

func (m *MemoryRegistry) InsertClientView(ctx context.Context, view *ClientView) error {
	stored := *view
	stored.Record = cloneRecord(view.Record)
	stored.CreatedAt = m.now()
	m.views[memKey(view.TenantID, view.ClientGroupID, formatVersion(view.Version))] = stored
	return nil
}

func (m *MemoryRegistry) PruneClientViews(ctx context.Context, tenantID, groupID string, cutoff time.Time, keepVersion int64) error {
	for key, view := range m.views {
		if view.TenantID != tenantID || view.ClientGroupID != groupID {
			continue
		}
		if view.Version != keepVersion && view.CreatedAt.Before(cutoff) {
			delete(m.views, key)
		}
	}
	return nil
}

func (m *MemoryRegistry) SweepExpired(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	var removed int64
	for key, group := range m.groups {
		if limit > 0 && removed >= int64(limit) {
			break
		}
		if !group.UpdatedAt.Before(cutoff) {
			continue
		}

		delete(m.groups, key)
		for clientKey, client := range m.clits {
			if client.TenantID == group.TenantID && client.ClientGroupID == group.ID {
				delete(m.clits, clientKey)
			}
		}
		for viewKey, view := range m.views {
			if view.TenantID == group.TenantID && view.ClientGroupID == group.ID {
				delete(m.views, viewKey)
			}
		}
		removed++
	}
	return removed, nil
}

func formatVersion(version int64) string {
	return strconv.FormatInt(version, 10)
}
