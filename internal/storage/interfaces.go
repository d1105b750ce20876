// Package storage provides the storage interfaces and shared types for the
// membridge backends.
//
// The layer is split into small interfaces so the relational target, the
// row-store backend, and the read-only migration source can be implemented
// and tested independently.
package storage

import (
	"context"

	"github.com/hivemem/membridge/pkg/types"
)

// BackendStore owns the target schema and exposes CRUD plus filtered
// queries over memory entries.
type BackendStore interface {
	// Initialize idempotently creates schema, tables, and indexes,
	// opens the bounded connection pool, and performs a liveness probe.
	// Schema evolution is additive-only. Safe to call more than once.
	Initialize(ctx context.Context) error

	// Store creates or updates an entry (upsert by ID). Every mutable
	// field is overwritten and updated_at is refreshed.
	Store(ctx context.Context, entry *types.MemoryEntry) error

	// StoreBatch upserts a whole batch in a single multi-row statement.
	// Atomic at the statement level only.
	StoreBatch(ctx context.Context, entries []*types.MemoryEntry) error

	// Retrieve returns the entry with the given ID, or ErrNotFound.
	Retrieve(ctx context.Context, id string) (*types.MemoryEntry, error)

	// Update is semantically identical to Store: an upsert that never
	// requires prior existence.
	Update(ctx context.Context, id string, entry *types.MemoryEntry) error

	// Delete removes the entry. Children referencing it via parent_id
	// have that reference cleared, not removed.
	Delete(ctx context.Context, id string) error

	// Query returns entries matching the filter, ordered by timestamp
	// descending.
	Query(ctx context.Context, filter QueryFilter) ([]*types.MemoryEntry, error)

	// GetAllEntries is Query with an empty filter and no limit.
	GetAllEntries(ctx context.Context) ([]*types.MemoryEntry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// GetHealthStatus never returns an error; failures are reported in
	// the status itself.
	GetHealthStatus(ctx context.Context) *HealthStatus

	// PerformMaintenance refreshes planner statistics and reclaims
	// space. Best-effort; must not block concurrent CRUD.
	PerformMaintenance(ctx context.Context) error

	// Shutdown drains and closes the pool. Safe to call repeatedly.
	Shutdown() error
}

// MetadataRecorder is the optional coordination side-channel. Backends
// that maintain the swarm_metadata table implement it; the orchestrator
// records completed runs through it when available.
type MetadataRecorder interface {
	RecordSwarmMetadata(ctx context.Context, meta *types.SwarmMetadata) error
}

// SourceReader is the opaque paginated view over the legacy row store.
// Migration only ever reads through it.
type SourceReader interface {
	// Count returns the total number of source rows.
	Count(ctx context.Context) (int, error)

	// Page returns up to limit raw rows ordered by timestamp ascending,
	// skipping offset rows.
	Page(ctx context.Context, limit, offset int) ([]types.RawEntry, error)

	// Earliest returns the n earliest rows by timestamp, for sampling.
	Earliest(ctx context.Context, n int) ([]types.RawEntry, error)

	// Close releases the underlying handle.
	Close() error
}
