// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Actor identifies the authenticated caller of a pull or push. It is threaded
// explicitly through every handler call; there is no ambient request state.
type Actor struct {
	UserID   string
	TenantID string
	Role     string
}

// RowData is one full business row fetched for a pull patch. Value is the
// JSON-encoded row as the client should store it.
type RowData struct {
	ID    string
	Value json.RawMessage
}

// SyncedTable registers one business table with the engine. Metadata is the
// row metadata provider: the current (id, version) set visible to the actor
// under the access-control rules. FetchRows returns the full rows for the
// given ids. Both run inside the pull's transaction (use TxFromContext) so
// every table is read from one consistent snapshot.
//
// The contract every synced table must honor: rows carry an id and a version
// integer that increments on every update.
type SyncedTable struct {
	Name      string
	Metadata  func(ctx context.Context, actor Actor) ([]RowMeta, error)
	FetchRows func(ctx context.Context, actor Actor, ids []string) ([]RowData, error)
}

// Mutator is one authoritative business command the push handler can
// dispatch. Implementations run inside the mutation's transaction.
type Mutator interface {
	Name() string
	Apply(ctx context.Context, actor Actor, args json.RawMessage) error
}

// MutatorFunc adapts a function to the Mutator interface.
type MutatorFunc struct {
	MutatorName string
	Fn          func(ctx context.Context, actor Actor, args json.RawMessage) error
}

func (m MutatorFunc) Name() string { return m.MutatorName }

func (m MutatorFunc) Apply(ctx context.Context, actor Actor, args json.RawMessage) error {
	return m.Fn(ctx, actor, args)
}

// ServiceConfig holds configuration for the sync service.
type ServiceConfig struct {
	Tables   []SyncedTable // Business tables included in every CVR (required)
	Mutators []Mutator     // Authoritative mutators dispatchable from push

	// PokeChannels returns the realtime channels to notify after a push
	// commits. Defaults to the actor's tenant id.
	PokeChannels func(actor Actor) []string

	FetchChunkSize   int           // Ids per row-fetch query during pull (default DefaultFetchChunkSize)
	RegistryLifetime time.Duration // Idle lifetime before registry rows are swept (default DefaultRegistryLifetime)

	StageMetrics    StageMetricsRecorder // Optional stage-timing observer
	LogStageTimings bool                 // Log stage timings at debug level
}

// SyncService implements the pull/push synchronization engine. This is the
// main SDK component that applications integrate.
type SyncService struct {
	runner   TxRunner
	registry Registry
	notifier Notifier
	logger   *slog.Logger
	config   *ServiceConfig

	tables     []SyncedTable
	tableNames []string // business tables + ClientsTableName, sorted
	mutators   map[string]Mutator
}

// NewSyncService creates a sync service. notifier may be nil when no realtime
// fan-out is wired.
func NewSyncService(runner TxRunner, registry Registry, notifier Notifier, config *ServiceConfig, logger *slog.Logger) (*SyncService, error) {
	if runner == nil {
		return nil, fmt.Errorf("sync service requires a transaction runner")
	}
	if registry == nil {
		return nil, fmt.Errorf("sync service requires a registry")
	}
	if config == nil {
		config = &ServiceConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.FetchChunkSize <= 0 {
		config.FetchChunkSize = DefaultFetchChunkSize
	}
	if config.FetchChunkSize > DBTransactionRowLimit {
		config.FetchChunkSize = DBTransactionRowLimit
	}
	if config.RegistryLifetime <= 0 {
		config.RegistryLifetime = DefaultRegistryLifetime
	}

	s := &SyncService{
		runner:   runner,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		config:   config,
		mutators: make(map[string]Mutator, len(config.Mutators)),
	}

	seen := make(map[string]bool, len(config.Tables))
	for _, table := range config.Tables {
		switch {
		case table.Name == "":
			return nil, fmt.Errorf("synced table requires a name")
		case table.Name == ClientsTableName:
			return nil, fmt.Errorf("table name %q is reserved for the sync client registry", ClientsTableName)
		case seen[table.Name]:
			return nil, fmt.Errorf("synced table %q registered twice", table.Name)
		case table.Metadata == nil || table.FetchRows == nil:
			return nil, fmt.Errorf("synced table %q requires Metadata and FetchRows", table.Name)
		}
		seen[table.Name] = true
		s.tables = append(s.tables, table)
		s.tableNames = append(s.tableNames, table.Name)
	}
	s.tableNames = append(s.tableNames, ClientsTableName)
	sort.Strings(s.tableNames)
	sort.Slice(s.tables, func(i, j int) bool { return s.tables[i].Name < s.tables[j].Name })

	for _, mutator := range config.Mutators {
		name := mutator.Name()
		if name == "" {
			return nil, fmt.Errorf("mutator requires a name")
		}
		if _, dup := s.mutators[name]; dup {
			return nil, fmt.Errorf("mutator %q registered twice", name)
		}
		s.mutators[name] = mutator
	}

	logger.Debug("Sync service configured",
		"tables", len(s.tables), "mutators", len(s.mutators),
		"fetch_chunk_size", config.FetchChunkSize,
		"registry_lifetime", config.RegistryLifetime)

	return s, nil
}

// RegistryLifetime returns the configured idle lifetime for registry rows.
func (s *SyncService) RegistryLifetime() time.Duration {
	return s.config.RegistryLifetime
}

func (s *SyncService) pokeChannels(actor Actor) []string {
	if s.config.PokeChannels != nil {
		return s.config.PokeChannels(actor)
	}
	return []string{actor.TenantID}
}
