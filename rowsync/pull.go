// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProcessPull handles one incremental sync round using the row-version
// strategy: load the prior CVR, snapshot current row metadata, diff, fetch
// only changed rows, persist the next CVR, return the patch and cookie.
// The whole round runs inside one retryable transaction so the patch never
// observes a torn mix of pre- and post-mutation state.
func (s *SyncService) ProcessPull(ctx context.Context, actor Actor, req *PullRequest) (*PullResponse, error) {
	if req.PullVersion != PullVersion {
		return nil, fmt.Errorf("pull version %d: %w", req.PullVersion, ErrVersionNotSupported)
	}
	if _, err := uuid.Parse(req.ClientGroupID); err != nil {
		return nil, fmt.Errorf("invalid clientGroupID %q: %w", req.ClientGroupID, err)
	}

	start := time.Now()
	totalStart := s.stageStart()

	var resp *PullResponse
	err := s.runner.RunTx(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.pullInTx(ctx, actor, req)
		return err
	})

	s.observeStage(ctx, MetricsOpPull, MetricsStageTotal, totalStart, 0, err != nil)
	if err != nil {
		s.logger.Error("Pull failed",
			"client_group_id", req.ClientGroupID, "user_id", actor.UserID, "error", err)
		return nil, err
	}

	s.logger.Info("Processed pull",
		"client_group_id", req.ClientGroupID,
		"user_id", actor.UserID,
		"patch_ops", len(resp.Patch),
		"duration", time.Since(start))
	return resp, nil
}

func (s *SyncService) pullInTx(ctx context.Context, actor Actor, req *PullRequest) (*PullResponse, error) {
	cookieOrder := int64(0)
	if req.Cookie != nil {
		cookieOrder = req.Cookie.Order
	}

	// 1: Load the prior client view referenced by the cookie. A cookie whose
	// snapshot is gone means the registry was pruned or reset; the client has
	// to re-bootstrap.
	var prior *ClientView
	if req.Cookie != nil {
		var err error
		prior, err = s.registry.GetClientView(ctx, actor.TenantID, req.ClientGroupID, req.Cookie.Order)
		if err != nil {
			return nil, err
		}
		if prior == nil {
			return nil, fmt.Errorf("no client view at version %d for group %s: %w",
				req.Cookie.Order, req.ClientGroupID, ErrClientStateNotFound)
		}
	}

	// 2: Build the base CVR. Absent prior view means empty base, which makes
	// the diff put every visible row.
	var priorRecord ClientViewRecord
	if prior != nil {
		priorRecord = prior.Record
	}
	base := BuildBaseCVR(priorRecord, s.tableNames)

	// 3: Load or default-construct the client group and verify ownership.
	group, err := s.registry.GetClientGroup(ctx, actor.TenantID, req.ClientGroupID)
	if err != nil {
		return nil, err
	}
	if group != nil && group.UserID != actor.UserID {
		return nil, fmt.Errorf("client group %s is owned by another user: %w",
			req.ClientGroupID, ErrAccessDenied)
	}
	if group == nil {
		group = &ClientGroup{
			ID:       req.ClientGroupID,
			TenantID: actor.TenantID,
			UserID:   actor.UserID,
		}
	}

	// 4: Snapshot current row metadata for every synced table, scoped to the
	// actor, plus the group's own client cursors (metadata-only table).
	metaStart := s.stageStart()
	meta := make([]TableMetadata, 0, len(s.tables)+1)
	for _, table := range s.tables {
		rows, err := table.Metadata(ctx, actor)
		if err != nil {
			return nil, fmt.Errorf("metadata query for table %q failed: %w", table.Name, err)
		}
		meta = append(meta, TableMetadata{Table: table.Name, Rows: rows})
	}

	clients, err := s.registry.ListClients(ctx, actor.TenantID, req.ClientGroupID)
	if err != nil {
		return nil, err
	}
	clientRows := make([]RowMeta, 0, len(clients))
	for _, client := range clients {
		clientRows = append(clientRows, RowMeta{ID: client.ID, Version: client.LastMutationID})
	}
	meta = append(meta, TableMetadata{Table: ClientsTableName, Rows: clientRows})
	s.observeStage(ctx, MetricsOpPull, MetricsStagePullMetadata, metaStart, len(meta), false)

	// 5: Build the next CVR and diff it against the base.
	diffStart := s.stageStart()
	next := BuildNextCVR(meta)
	diff := DiffCVR(base, next)
	s.observeStage(ctx, MetricsOpPull, MetricsStagePullDiff, diffStart, len(diff), false)

	// 6: Nothing changed since the prior view: answer without writing
	// anything, so idle polling neither fetches rows nor grows the CVR table.
	if prior != nil && diff.IsEmpty() {
		s.logger.Debug("Pull diff empty, returning no-op",
			"client_group_id", req.ClientGroupID, "cookie", cookieOrder)
		return &PullResponse{
			Cookie:                req.Cookie,
			LastMutationIDChanges: map[string]int64{},
			Patch:                 []PatchOperation{},
		}, nil
	}

	// 7: Build the patch. First pull resets the replica with a clear op; row
	// fetches are chunked to respect the store's per-transaction row ceiling.
	fetchStart := s.stageStart()
	patch := make([]PatchOperation, 0)
	if prior == nil {
		patch = append(patch, PatchOperation{Op: OpClear})
	}
	fetched := 0
	for _, table := range s.tables {
		entry := diff[table.Name]

		for start := 0; start < len(entry.Puts); start += s.config.FetchChunkSize {
			end := min(start+s.config.FetchChunkSize, len(entry.Puts))
			rows, err := table.FetchRows(ctx, actor, entry.Puts[start:end])
			if err != nil {
				return nil, fmt.Errorf("row fetch for table %q failed: %w", table.Name, err)
			}
			for _, row := range rows {
				patch = append(patch, PatchOperation{
					Op:    OpPut,
					Key:   table.Name + "/" + row.ID,
					Value: row.Value,
				})
			}
			fetched += len(rows)
		}
		for _, id := range entry.Dels {
			patch = append(patch, PatchOperation{Op: OpDel, Key: table.Name + "/" + id})
		}
	}
	s.observeStage(ctx, MetricsOpPull, MetricsStagePullFetch, fetchStart, fetched, false)

	// The clients table never contributes patch rows; its changed entries are
	// reported as lastMutationIDChanges so clients can reconcile pending
	// mutations.
	changes := make(map[string]int64)
	for _, id := range diff[ClientsTableName].Puts {
		changes[id] = next[ClientsTableName][id]
	}

	// 8: Persist the group and the new CVR snapshot, and prune snapshots past
	// the retention lifetime, all in this transaction.
	persistStart := s.stageStart()
	nextVersion := max(cookieOrder, group.CVRVersion) + 1
	group.CVRVersion = nextVersion
	if err := s.registry.UpsertClientGroup(ctx, group); err != nil {
		return nil, err
	}
	if err := s.registry.InsertClientView(ctx, &ClientView{
		ClientGroupID: req.ClientGroupID,
		TenantID:      actor.TenantID,
		Version:       nextVersion,
		Record:        next,
	}); err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-s.config.RegistryLifetime)
	if err := s.registry.PruneClientViews(ctx, actor.TenantID, req.ClientGroupID, cutoff, nextVersion); err != nil {
		return nil, err
	}
	s.observeStage(ctx, MetricsOpPull, MetricsStagePullPersist, persistStart, 1, false)

	return &PullResponse{
		Cookie:                &Cookie{Order: nextVersion},
		LastMutationIDChanges: changes,
		Patch:                 patch,
	}, nil
}
