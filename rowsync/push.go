// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProcessPush applies a batch of client mutations against the authoritative
// store. Mutations run strictly sequentially in request order, each in its own
// retryable transaction; per-client mutation ids form a gapless strictly
// increasing sequence, and replays of already-applied ids are no-ops.
func (s *SyncService) ProcessPush(ctx context.Context, actor Actor, req *PushRequest) (*PushResponse, error) {
	if req.PushVersion != PushVersion {
		return nil, fmt.Errorf("push version %d: %w", req.PushVersion, ErrVersionNotSupported)
	}
	if _, err := uuid.Parse(req.ClientGroupID); err != nil {
		return nil, fmt.Errorf("invalid clientGroupID %q: %w", req.ClientGroupID, err)
	}

	start := time.Now()
	totalStart := s.stageStart()

	for i := range req.Mutations {
		mutation := &req.Mutations[i]
		if _, err := uuid.Parse(mutation.ClientID); err != nil {
			return nil, fmt.Errorf("invalid clientID %q: %w", mutation.ClientID, err)
		}

		err := s.applyMutation(ctx, actor, req.ClientGroupID, mutation, false)

		var bizErr *BusinessMutationError
		if errors.As(err, &bizErr) {
			// The failed attempt rolled back, so no partial business effect
			// survives. Re-run once in error mode: the effect is skipped but
			// the client's cursor still advances, so the client stops
			// retrying a permanently failing mutation.
			s.logger.Error("Mutation failed, retrying in error mode",
				"mutation_id", mutation.ID, "name", mutation.Name,
				"client_id", mutation.ClientID, "error", bizErr.Err)
			err = s.applyMutation(ctx, actor, req.ClientGroupID, mutation, true)
		}
		if err != nil {
			s.observeStage(ctx, MetricsOpPush, MetricsStageTotal, totalStart, i, true)
			s.logger.Error("Push aborted",
				"client_group_id", req.ClientGroupID, "mutation_id", mutation.ID, "error", err)
			return nil, err
		}
	}

	s.observeStage(ctx, MetricsOpPush, MetricsStageTotal, totalStart, len(req.Mutations), false)
	s.logger.Info("Processed push",
		"client_group_id", req.ClientGroupID,
		"user_id", actor.UserID,
		"mutations", len(req.Mutations),
		"duration", time.Since(start))

	// All transactions are committed by now; outside a transaction AfterCommit
	// fires immediately.
	if s.notifier != nil && len(req.Mutations) > 0 {
		channels := s.pokeChannels(actor)
		AfterCommit(ctx, func(ctx context.Context) {
			if err := s.notifier.Poke(ctx, channels); err != nil {
				s.logger.Error("Poke delivery failed", "channels", channels, "error", err)
			}
		})
	}

	return &PushResponse{}, nil
}

// applyMutation runs one mutation in its own transaction. In error mode the
// business dispatch is skipped but the bookkeeping still advances the client's
// cursor atomically.
func (s *SyncService) applyMutation(ctx context.Context, actor Actor, groupID string, mutation *Mutation, errorMode bool) error {
	return s.runner.RunTx(ctx, func(ctx context.Context) error {
		prepareStart := s.stageStart()
		group, client, nextMutationID, err := s.prepareMutation(ctx, actor, groupID, mutation)
		s.observeStage(ctx, MetricsOpPush, MetricsStagePushPrepare, prepareStart, 1, err != nil)
		if errors.Is(err, errPastMutation) {
			s.logger.Info("Mutation already processed, skipping",
				"mutation_id", mutation.ID, "client_id", mutation.ClientID)
			return nil
		}
		if err != nil {
			return err
		}

		if !errorMode {
			dispatchStart := s.stageStart()
			err := s.dispatchMutation(ctx, actor, mutation)
			s.observeStage(ctx, MetricsOpPush, MetricsStagePushDispatch, dispatchStart, 1, err != nil)
			if err != nil {
				return &BusinessMutationError{
					Name:       mutation.Name,
					MutationID: mutation.ID,
					Err:        err,
				}
			}
		}

		// Advance the cursor in the same transaction as the business effect
		// (or no-effect, in error mode).
		bookkeepingStart := s.stageStart()
		client.LastMutationID = nextMutationID
		if err := s.registry.UpsertClientGroup(ctx, group); err != nil {
			return err
		}
		if err := s.registry.UpsertClient(ctx, client); err != nil {
			return err
		}
		s.observeStage(ctx, MetricsOpPush, MetricsStagePushBookkeeping, bookkeepingStart, 1, false)
		return nil
	})
}

// prepareMutation loads or default-constructs the group and client, enforces
// ownership, and sequences the mutation id against the client's cursor.
func (s *SyncService) prepareMutation(ctx context.Context, actor Actor, groupID string, mutation *Mutation) (*ClientGroup, *Client, int64, error) {
	group, err := s.registry.GetClientGroup(ctx, actor.TenantID, groupID)
	if err != nil {
		return nil, nil, 0, err
	}
	if group != nil && group.UserID != actor.UserID {
		return nil, nil, 0, fmt.Errorf("client group %s is owned by another user: %w", groupID, ErrAccessDenied)
	}
	if group == nil {
		group = &ClientGroup{ID: groupID, TenantID: actor.TenantID, UserID: actor.UserID}
	}

	client, err := s.registry.GetClient(ctx, actor.TenantID, mutation.ClientID)
	if err != nil {
		return nil, nil, 0, err
	}
	if client != nil && client.ClientGroupID != groupID {
		return nil, nil, 0, fmt.Errorf("client %s belongs to another group: %w", mutation.ClientID, ErrAccessDenied)
	}
	if client == nil {
		client = &Client{ID: mutation.ClientID, TenantID: actor.TenantID, ClientGroupID: groupID}
	}

	// A never-seen client submitting an id past 1 means the server lost its
	// bookkeeping (database reset); the client must re-bootstrap.
	if client.LastMutationID == 0 && mutation.ID > 1 {
		return nil, nil, 0, fmt.Errorf("client %s has no server state for mutation %d: %w",
			mutation.ClientID, mutation.ID, ErrClientStateNotFound)
	}

	nextMutationID := client.LastMutationID + 1
	if mutation.ID < nextMutationID {
		return nil, nil, 0, errPastMutation
	}
	if mutation.ID > nextMutationID {
		return nil, nil, 0, fmt.Errorf("mutation %d ahead of expected %d for client %s: %w",
			mutation.ID, nextMutationID, mutation.ClientID, ErrMutationConflict)
	}

	return group, client, nextMutationID, nil
}

// dispatchMutation routes the mutation to its registered mutator. Unknown
// names are business failures so a misbehaving client cannot wedge its queue.
func (s *SyncService) dispatchMutation(ctx context.Context, actor Actor, mutation *Mutation) error {
	mutator, ok := s.mutators[mutation.Name]
	if !ok {
		return fmt.Errorf("no mutator registered for %q", mutation.Name)
	}
	return mutator.Apply(ctx, actor, mutation.Args)
}
