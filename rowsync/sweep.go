// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"time"
)

// SweepExpired removes client groups (with their clients and client views)
// that have been idle past the registry lifetime. The delete is bounded per
// transaction; repeated runs drain a large backlog.
func (s *SyncService) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.config.RegistryLifetime)

	var removed int64
	err := s.runner.RunTx(ctx, func(ctx context.Context) error {
		var err error
		removed, err = s.registry.SweepExpired(ctx, cutoff, DBTransactionRowLimit)
		return err
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("Registry sweep removed expired client groups", "count", removed)
	}
	return removed, nil
}

// StartSweeper runs SweepExpired on a fixed interval until ctx is canceled.
// Intended to be launched once per process as a background goroutine.
func (s *SyncService) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		for {
			if err := sleepWithContext(ctx, interval); err != nil {
				return
			}
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.Error("Registry sweep failed", "error", err)
			}
		}
	}()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
