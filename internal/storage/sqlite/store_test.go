package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemem/membridge/internal/storage"
	"github.com/hivemem/membridge/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(":memory:")
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Shutdown() })
	return store
}

func testEntry(id string) *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:        id,
		AgentID:   "agent-1",
		SessionID: "session-1",
		Type:      "observation",
		Content:   "content of " + id,
		Context:   map[string]any{"step": "one"},
		Tags:      []string{"alpha"},
		Version:   1,
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStoreRequiresInitialize(t *testing.T) {
	store := NewStore(":memory:")

	err := store.Store(context.Background(), testEntry("e1"))
	assert.True(t, errors.Is(err, storage.ErrNotInitialized))

	_, err = store.Retrieve(context.Background(), "e1")
	assert.True(t, errors.Is(err, storage.ErrNotInitialized))
}

func TestStoreAndRetrieve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := testEntry("e1")
	entry.Metadata = map[string]any{"namespace": "prod"}
	require.NoError(t, store.Store(ctx, entry))

	got, err := store.Retrieve(ctx, "e1")
	require.NoError(t, err)

	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, entry.AgentID, got.AgentID)
	assert.Equal(t, entry.SessionID, got.SessionID)
	assert.Equal(t, entry.Type, got.Type)
	assert.Equal(t, entry.Content, got.Content)
	assert.Equal(t, entry.Context, got.Context)
	assert.Equal(t, entry.Tags, got.Tags)
	assert.Equal(t, entry.Metadata, got.Metadata)
	assert.Equal(t, 1, got.Version)
	assert.True(t, entry.Timestamp.Equal(got.Timestamp))
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestRetrieveMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Retrieve(context.Background(), "nope")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = store.Retrieve(context.Background(), "")
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func TestStoreUpsertPreservesCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := testEntry("e1")
	require.NoError(t, store.Store(ctx, entry))

	first, err := store.Retrieve(ctx, "e1")
	require.NoError(t, err)

	// Re-store with changed content; created_at must survive the upsert.
	entry.Content = "revised"
	entry.CreatedAt = first.CreatedAt
	require.NoError(t, store.Store(ctx, entry))

	second, err := store.Retrieve(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "revised", second.Content)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStoreRejectsInvalidEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Store(ctx, nil)
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))

	entry := testEntry("e1")
	entry.ID = ""
	assert.True(t, errors.Is(store.Store(ctx, entry), storage.ErrInvalidInput))

	entry = testEntry("e1")
	entry.Content = ""
	assert.True(t, errors.Is(store.Store(ctx, entry), storage.ErrInvalidInput))
}

func TestUpdateIsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Update of a nonexistent id creates it.
	require.NoError(t, store.Update(ctx, "e1", testEntry("ignored")))

	got, err := store.Retrieve(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID, "the path id wins over the body id")
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, testEntry("e1")))
	require.NoError(t, store.Delete(ctx, "e1"))

	_, err := store.Retrieve(ctx, "e1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	assert.True(t, errors.Is(store.Delete(ctx, "e1"), storage.ErrNotFound))
}

func TestDeleteParentDetachesChildren(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent := testEntry("parent")
	require.NoError(t, store.Store(ctx, parent))

	child := testEntry("child")
	pid := "parent"
	child.ParentID = &pid
	require.NoError(t, store.Store(ctx, child))

	require.NoError(t, store.Delete(ctx, "parent"))

	got, err := store.Retrieve(ctx, "child")
	require.NoError(t, err, "children survive parent deletion")
	assert.Nil(t, got.ParentID, "dangling parent reference is cleared, not cascaded")
}

func TestQueryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		entry := testEntry(fmt.Sprintf("e%d", i))
		entry.Timestamp = base.Add(time.Duration(i) * time.Hour)
		if i%2 == 0 {
			entry.AgentID = "agent-even"
			entry.Tags = []string{"even", "all"}
		} else {
			entry.AgentID = "agent-odd"
			entry.Tags = []string{"odd", "all"}
		}
		if i == 3 {
			entry.Type = "decision"
			entry.Content = "chose the blue pill"
			entry.Metadata = map[string]any{"namespace": "prod"}
		}
		require.NoError(t, store.Store(ctx, entry))
	}

	t.Run("by agent ordered newest first", func(t *testing.T) {
		entries, err := store.Query(ctx, storage.QueryFilter{AgentID: "agent-even"})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "e4", entries[0].ID)
		assert.Equal(t, "e2", entries[1].ID)
		assert.Equal(t, "e0", entries[2].ID)
	})

	t.Run("by type", func(t *testing.T) {
		entries, err := store.Query(ctx, storage.QueryFilter{Type: "decision"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "e3", entries[0].ID)
	})

	t.Run("time range", func(t *testing.T) {
		entries, err := store.Query(ctx, storage.QueryFilter{
			StartTime: base.Add(1 * time.Hour),
			EndTime:   base.Add(3 * time.Hour),
		})
		require.NoError(t, err)
		assert.Len(t, entries, 3) // e1, e2, e3: both bounds inclusive
	})

	t.Run("search matches content case-insensitively", func(t *testing.T) {
		entries, err := store.Query(ctx, storage.QueryFilter{Search: "BLUE PILL"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "e3", entries[0].ID)
	})

	t.Run("tags are contains-any", func(t *testing.T) {
		entries, err := store.Query(ctx, storage.QueryFilter{Tags: []string{"odd", "even"}})
		require.NoError(t, err)
		assert.Len(t, entries, 6)

		entries, err = store.Query(ctx, storage.QueryFilter{Tags: []string{"odd"}})
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})

	t.Run("namespace", func(t *testing.T) {
		entries, err := store.Query(ctx, storage.QueryFilter{Namespace: "prod"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "e3", entries[0].ID)
	})

	t.Run("combined filters are AND", func(t *testing.T) {
		entries, err := store.Query(ctx, storage.QueryFilter{
			AgentID: "agent-even",
			Tags:    []string{"odd"},
		})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("limit and offset", func(t *testing.T) {
		entries, err := store.Query(ctx, storage.QueryFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "e4", entries[0].ID)
		assert.Equal(t, "e3", entries[1].ID)
	})

	t.Run("offset without limit", func(t *testing.T) {
		entries, err := store.Query(ctx, storage.QueryFilter{Offset: 4})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}

func TestStoreBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := make([]*types.MemoryEntry, 0, 10)
	for i := 0; i < 10; i++ {
		entries = append(entries, testEntry(fmt.Sprintf("b%d", i)))
	}
	require.NoError(t, store.StoreBatch(ctx, entries))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	// Re-sending the same batch upserts rather than duplicating.
	require.NoError(t, store.StoreBatch(ctx, entries))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	assert.NoError(t, store.StoreBatch(ctx, nil), "an empty batch is a no-op")
}

func TestGetAllEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := testEntry(fmt.Sprintf("e%d", i))
		entry.Timestamp = entry.Timestamp.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Store(ctx, entry))
	}

	entries, err := store.GetAllEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e2", entries[0].ID, "newest first")
}

func TestGetHealthStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, testEntry("e1")))

	status := store.GetHealthStatus(ctx)
	require.True(t, status.Healthy)
	require.NotNil(t, status.Metrics)
	assert.Equal(t, 1, status.Metrics.EntryCount)
	assert.Greater(t, status.Metrics.StorageBytes, int64(0))

	// Never healthy, never panicking, on a closed store.
	require.NoError(t, store.Shutdown())
	status = store.GetHealthStatus(ctx)
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.Error)
}

func TestPerformMaintenance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, testEntry("e1")))
	assert.NoError(t, store.PerformMaintenance(ctx))

	require.NoError(t, store.Shutdown())
	assert.True(t, errors.Is(store.PerformMaintenance(ctx), storage.ErrMaintenance))
}

func TestRecordSwarmMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta := &types.SwarmMetadata{
		ID:      "run-1",
		SwarmID: "membridge",
		Type:    "migration",
		Data:    map[string]any{"migratedEntries": 10},
	}
	require.NoError(t, store.RecordSwarmMetadata(ctx, meta))
	// Upsert by id.
	require.NoError(t, store.RecordSwarmMetadata(ctx, meta))

	err := store.RecordSwarmMetadata(ctx, &types.SwarmMetadata{})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func TestShutdownIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Shutdown())
	require.NoError(t, store.Shutdown())
}
