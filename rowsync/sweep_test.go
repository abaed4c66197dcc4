// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpired_RemovesIdleGroups(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore("orders")
	svc, registry := newTestService(t, store, nil)
	actor := testActor()
	staleGroup := uuid.NewString()
	freshGroup := uuid.NewString()

	// Backdate the registry clock so the first group's activity lands past
	// the lifetime, then restore it for the second.
	registry.now = func() time.Time { return time.Now().Add(-2 * svc.RegistryLifetime()) }
	_, err := svc.ProcessPull(ctx, actor, pullReq(staleGroup, nil))
	require.NoError(t, err)

	registry.now = time.Now
	_, err = svc.ProcessPull(ctx, actor, pullReq(freshGroup, nil))
	require.NoError(t, err)

	removed, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	stale, err := registry.GetClientGroup(ctx, actor.TenantID, staleGroup)
	require.NoError(t, err)
	assert.Nil(t, stale)

	fresh, err := registry.GetClientGroup(ctx, actor.TenantID, freshGroup)
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}

func TestSweepExpired_CascadesClientsAndViews(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore("orders")
	svc, registry := newTestService(t, store, nil, &recordingMutator{name: "noop"})
	actor := testActor()
	groupID := uuid.NewString()
	clientID := uuid.NewString()

	registry.now = func() time.Time { return time.Now().Add(-2 * svc.RegistryLifetime()) }
	resp, err := svc.ProcessPull(ctx, actor, pullReq(groupID, nil))
	require.NoError(t, err)
	_, err = svc.ProcessPush(ctx, actor, pushReq(groupID, clientID,
		Mutation{ID: 1, Name: "noop", Args: mustArgs(t, nil)}))
	require.NoError(t, err)

	_, err = svc.SweepExpired(ctx)
	require.NoError(t, err)

	client, err := registry.GetClient(ctx, actor.TenantID, clientID)
	require.NoError(t, err)
	assert.Nil(t, client)

	view, err := registry.GetClientView(ctx, actor.TenantID, groupID, resp.Cookie.Order)
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestSweepExpired_NothingToRemove(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore("orders")
	svc, _ := newTestService(t, store, nil)

	_, err := svc.ProcessPull(ctx, testActor(), pullReq(uuid.NewString(), nil))
	require.NoError(t, err)

	removed, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
