package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/hivemem/membridge/internal/storage"
	"github.com/hivemem/membridge/pkg/types"
)

// fakeSource serves canned raw rows in slice order.
type fakeSource struct {
	rows      []types.RawEntry
	countErr  error
	pageErr   map[int]error // keyed by offset
	pageCalls int
	closed    bool
}

func sourceRows(n int) []types.RawEntry {
	rows := make([]types.RawEntry, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, types.RawEntry{
			ID:        fmt.Sprintf("src-%04d", i),
			AgentID:   "agent-1",
			SessionID: "session-1",
			Type:      "observation",
			Content:   fmt.Sprintf("row %d", i),
			Timestamp: "2025-03-01T12:00:00Z",
		})
	}
	return rows
}

func (f *fakeSource) Count(ctx context.Context) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.rows), nil
}

func (f *fakeSource) Page(ctx context.Context, limit, offset int) ([]types.RawEntry, error) {
	f.pageCalls++
	if err := f.pageErr[offset]; err != nil {
		return nil, err
	}
	if offset >= len(f.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	return f.rows[offset:end], nil
}

func (f *fakeSource) Earliest(ctx context.Context, n int) ([]types.RawEntry, error) {
	if n > len(f.rows) {
		n = len(f.rows)
	}
	return f.rows[:n], nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

var _ storage.SourceReader = (*fakeSource)(nil)

// fakeTarget is an in-memory BackendStore that can be told to fail batch
// writes.
type fakeTarget struct {
	entries map[string]*types.MemoryEntry

	initCalls     int
	shutdownCalls int
	batchErrs     []error // consumed one per StoreBatch call
	countErr      error
	recorded      []*types.SwarmMetadata
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{entries: map[string]*types.MemoryEntry{}}
}

func (f *fakeTarget) Initialize(ctx context.Context) error {
	f.initCalls++
	return nil
}

func (f *fakeTarget) Store(ctx context.Context, entry *types.MemoryEntry) error {
	f.entries[entry.ID] = entry
	return nil
}

func (f *fakeTarget) StoreBatch(ctx context.Context, entries []*types.MemoryEntry) error {
	if len(f.batchErrs) > 0 {
		err := f.batchErrs[0]
		f.batchErrs = f.batchErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, entry := range entries {
		f.entries[entry.ID] = entry
	}
	return nil
}

func (f *fakeTarget) Retrieve(ctx context.Context, id string) (*types.MemoryEntry, error) {
	entry, ok := f.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return entry, nil
}

func (f *fakeTarget) Update(ctx context.Context, id string, entry *types.MemoryEntry) error {
	e := *entry
	e.ID = id
	f.entries[id] = &e
	return nil
}

func (f *fakeTarget) Delete(ctx context.Context, id string) error {
	if _, ok := f.entries[id]; !ok {
		return storage.ErrNotFound
	}
	delete(f.entries, id)
	return nil
}

func (f *fakeTarget) Query(ctx context.Context, filter storage.QueryFilter) ([]*types.MemoryEntry, error) {
	return f.GetAllEntries(ctx)
}

func (f *fakeTarget) GetAllEntries(ctx context.Context) ([]*types.MemoryEntry, error) {
	out := make([]*types.MemoryEntry, 0, len(f.entries))
	for _, entry := range f.entries {
		out = append(out, entry)
	}
	return out, nil
}

func (f *fakeTarget) Count(ctx context.Context) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.entries), nil
}

func (f *fakeTarget) GetHealthStatus(ctx context.Context) *storage.HealthStatus {
	return &storage.HealthStatus{Healthy: true}
}

func (f *fakeTarget) PerformMaintenance(ctx context.Context) error { return nil }

func (f *fakeTarget) Shutdown() error {
	f.shutdownCalls++
	return nil
}

func (f *fakeTarget) RecordSwarmMetadata(ctx context.Context, meta *types.SwarmMetadata) error {
	copied := *meta
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	f.recorded = append(f.recorded, &copied)
	return nil
}

var (
	_ storage.BackendStore     = (*fakeTarget)(nil)
	_ storage.MetadataRecorder = (*fakeTarget)(nil)
)
