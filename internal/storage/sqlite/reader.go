package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/hivemem/membridge/internal/storage"
	"github.com/hivemem/membridge/pkg/types"
)

// Reader is the read-only paginated view over a legacy memory_entries
// table. Migration pages through it by timestamp ascending; it never
// writes to or deletes from the source.
//
// Offset pagination assumes the source is not concurrently mutated during
// a run; concurrent inserts or deletes can shift rows across page
// boundaries. That is a documented limitation of the source format, not
// something the reader corrects.
type Reader struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenReader opens a source database for reading. It fails if the
// memory_entries table is missing.
func OpenReader(dsn string) (*Reader, error) {
	db, err := openDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite source: %v", storage.ErrInitialization, err)
	}

	var name string
	err = db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'memory_entries'`).Scan(&name)
	if err == sql.ErrNoRows {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite source: no memory_entries table", storage.ErrInitialization)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite source: probe: %v", storage.ErrInitialization, err)
	}

	return &Reader{db: db}, nil
}

const rawColumns = `id, agent_id, session_id, type, content, context, timestamp, tags, version, parent_id, metadata`

// Count returns the total number of source rows.
func (r *Reader) Count(ctx context.Context) (int, error) {
	db, err := r.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite source: count: %w", err)
	}
	return n, nil
}

// Page returns up to limit rows ordered by timestamp ascending, skipping
// offset rows.
func (r *Reader) Page(ctx context.Context, limit, offset int) ([]types.RawEntry, error) {
	return r.fetch(ctx,
		`SELECT `+rawColumns+` FROM memory_entries ORDER BY timestamp ASC LIMIT ? OFFSET ?`,
		limit, offset)
}

// Earliest returns the n earliest rows by timestamp, for verification
// sampling.
func (r *Reader) Earliest(ctx context.Context, n int) ([]types.RawEntry, error) {
	return r.fetch(ctx,
		`SELECT `+rawColumns+` FROM memory_entries ORDER BY timestamp ASC LIMIT ?`, n)
}

func (r *Reader) fetch(ctx context.Context, query string, args ...any) ([]types.RawEntry, error) {
	db, err := r.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite source: page: %w", err)
	}
	defer rows.Close()

	var out []types.RawEntry
	for rows.Next() {
		var (
			raw       types.RawEntry
			contextV  any
			timestamp any
			tagsV     any
			versionV  any
			parentID  sql.NullString
			metadataV any
		)
		if err := rows.Scan(
			&raw.ID,
			&raw.AgentID,
			&raw.SessionID,
			&raw.Type,
			&raw.Content,
			&contextV,
			&timestamp,
			&tagsV,
			&versionV,
			&parentID,
			&metadataV,
		); err != nil {
			return nil, fmt.Errorf("sqlite source: scan row: %w", err)
		}

		// Drivers hand TEXT back as []byte depending on declared column
		// type; normalize so the codec only sees strings or structures.
		raw.Context = bytesToString(contextV)
		raw.Timestamp = bytesToString(timestamp)
		raw.Tags = bytesToString(tagsV)
		raw.Version = bytesToString(versionV)
		raw.Metadata = bytesToString(metadataV)
		if parentID.Valid {
			pid := parentID.String
			raw.ParentID = &pid
		}

		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite source: iterate rows: %w", err)
	}
	return out, nil
}

// Close releases the underlying handle. Safe to call repeatedly.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	if err != nil {
		return fmt.Errorf("sqlite source: close: %w", err)
	}
	return nil
}

func (r *Reader) handle() (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil, storage.ErrNotInitialized
	}
	return r.db, nil
}

func bytesToString(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

var _ storage.SourceReader = (*Reader)(nil)
