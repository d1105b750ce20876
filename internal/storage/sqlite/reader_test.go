package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemem/membridge/internal/storage"
)

// legacySchema mimics the table shape written by the legacy store: JSON as
// TEXT, timestamps as TEXT, no created_at/updated_at guarantees.
const legacySchema = `
CREATE TABLE memory_entries (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL,
    context TEXT,
    timestamp TEXT NOT NULL,
    tags TEXT,
    version INTEGER,
    parent_id TEXT,
    metadata TEXT
);
`

func newLegacySource(t *testing.T, rows int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(legacySchema)
	require.NoError(t, err)

	for i := 0; i < rows; i++ {
		_, err = db.Exec(`
			INSERT INTO memory_entries (id, agent_id, session_id, type, content, context, timestamp, tags, version, parent_id, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
			fmt.Sprintf("src-%03d", i),
			"agent-1",
			"session-1",
			"observation",
			fmt.Sprintf("row %d", i),
			`{"origin":"legacy"}`,
			fmt.Sprintf("2025-03-01T%02d:00:00Z", i%24),
			`["legacy"]`,
			1,
		)
		require.NoError(t, err)
	}
	return path
}

func TestOpenReaderMissingTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	db.Close()

	_, err = OpenReader(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrInitialization))
}

func TestReaderCountAndPage(t *testing.T) {
	path := newLegacySource(t, 7)

	reader, err := OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()

	ctx := context.Background()

	count, err := reader.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	page, err := reader.Page(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "src-000", page[0].ID, "timestamp ascending")

	raw := page[0]
	assert.Equal(t, "agent-1", raw.AgentID)
	assert.Equal(t, "row 0", raw.Content)
	assert.Equal(t, `{"origin":"legacy"}`, raw.Context, "JSON columns come back as text, not structures")
	assert.Equal(t, `["legacy"]`, raw.Tags)
	assert.Nil(t, raw.ParentID)
	assert.Nil(t, raw.Metadata)

	// Last page is short.
	page, err = reader.Page(ctx, 3, 6)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	// Past the end is empty, not an error.
	page, err = reader.Page(ctx, 3, 100)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestReaderEarliest(t *testing.T) {
	path := newLegacySource(t, 10)

	reader, err := OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()

	sample, err := reader.Earliest(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, sample, 5)
	for i, raw := range sample {
		assert.Equal(t, fmt.Sprintf("src-%03d", i), raw.ID)
	}
}

func TestReaderNeverWrites(t *testing.T) {
	path := newLegacySource(t, 2)

	reader, err := OpenReader(path)
	require.NoError(t, err)
	_, err = reader.Page(context.Background(), 10, 0)
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	// The source row count is untouched after a full read cycle.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM memory_entries`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestReaderCloseIdempotent(t *testing.T) {
	path := newLegacySource(t, 1)

	reader, err := OpenReader(path)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	require.NoError(t, reader.Close())

	_, err = reader.Count(context.Background())
	assert.True(t, errors.Is(err, storage.ErrNotInitialized))
}
