package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/hivemem/membridge/internal/storage"
	"github.com/hivemem/membridge/pkg/types"
)

// Store implements storage.BackendStore using SQLite. It is the row-store
// backend that predates the relational target; membridge keeps serving
// from it until a migration has been run and verified.
type Store struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

// NewStore creates an unopened store for the given SQLite DSN (a file
// path, or ":memory:" for tests). Initialize must be called before any
// other operation.
func NewStore(dsn string) *Store {
	return &Store{dsn: dsn}
}

// Initialize opens the database, applies pragmas and the idempotent
// schema, and probes liveness. Calling it again is a no-op.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := openDB(s.dsn)
	if err != nil {
		return fmt.Errorf("%w: sqlite: %v", storage.ErrInitialization, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%w: sqlite: ping: %v", storage.ErrInitialization, err)
	}

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return fmt.Errorf("%w: sqlite: apply schema: %v", storage.ErrInitialization, err)
	}

	s.db = db
	return nil
}

// openDB opens a SQLite handle with the pragmas the backend relies on.
// SQLite only supports one concurrent writer; a single open connection
// serialises writes and avoids SQLITE_BUSY under concurrent load, while
// WAL mode lets readers proceed without blocking the writer.
func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return db, nil
}

// Shutdown closes the handle. Safe to call repeatedly and before
// Initialize.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	return nil
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, storage.ErrNotInitialized
	}
	return s.db, nil
}

const entryColumns = `id, agent_id, session_id, type, content, context, timestamp, tags, version, parent_id, metadata, created_at, updated_at`

const upsertClause = `
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			session_id = excluded.session_id,
			type = excluded.type,
			content = excluded.content,
			context = excluded.context,
			timestamp = excluded.timestamp,
			tags = excluded.tags,
			version = excluded.version,
			parent_id = excluded.parent_id,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`

// Store creates or updates an entry (upsert by id).
func (s *Store) Store(ctx context.Context, entry *types.MemoryEntry) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	args, err := entryArgs(entry)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO memory_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		` + upsertClause

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: sqlite: store %s: %v", storage.ErrStore, entry.ID, err)
	}
	return nil
}

// StoreBatch upserts a whole batch in one multi-row statement.
func (s *Store) StoreBatch(ctx context.Context, entries []*types.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	db, err := s.handle()
	if err != nil {
		return err
	}

	const cols = 13
	valueRows := make([]string, 0, len(entries))
	args := make([]any, 0, len(entries)*cols)

	for _, entry := range entries {
		rowArgs, err := entryArgs(entry)
		if err != nil {
			return err
		}
		valueRows = append(valueRows, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, rowArgs...)
	}

	query := `
		INSERT INTO memory_entries (` + entryColumns + `)
		VALUES ` + strings.Join(valueRows, ", ") + upsertClause

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: sqlite: batch store of %d entries: %v", storage.ErrStore, len(entries), err)
	}
	return nil
}

func entryArgs(entry *types.MemoryEntry) ([]any, error) {
	if entry == nil {
		return nil, storage.ErrInvalidInput
	}
	if entry.ID == "" {
		return nil, fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}
	if entry.Content == "" {
		return nil, fmt.Errorf("%w: entry content is required", storage.ErrInvalidInput)
	}

	contextJSON, err := json.Marshal(orEmptyObject(entry.Context))
	if err != nil {
		return nil, fmt.Errorf("sqlite: marshal context: %w", err)
	}
	tagsJSON, err := json.Marshal(orEmptyArray(entry.Tags))
	if err != nil {
		return nil, fmt.Errorf("sqlite: marshal tags: %w", err)
	}

	var metadataJSON []byte
	if entry.Metadata != nil {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("sqlite: marshal metadata: %w", err)
		}
	}

	version := entry.Version
	if version < 1 {
		version = 1
	}

	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return []any{
		entry.ID,
		entry.AgentID,
		entry.SessionID,
		entry.Type,
		entry.Content,
		string(contextJSON),
		entry.Timestamp.UTC(),
		string(tagsJSON),
		version,
		nullableStringPtr(entry.ParentID),
		nullableBytes(metadataJSON),
		createdAt,
		now,
	}, nil
}

// Retrieve returns the entry with the given ID, or storage.ErrNotFound.
func (s *Store) Retrieve(ctx context.Context, id string) (*types.MemoryEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM memory_entries WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: retrieve %s: %w", id, err)
	}
	return entry, nil
}

// Update is the same upsert as Store; prior existence is never required.
func (s *Store) Update(ctx context.Context, id string, entry *types.MemoryEntry) error {
	if id == "" {
		return fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}
	if entry == nil {
		return storage.ErrInvalidInput
	}
	e := *entry
	e.ID = id
	return s.Store(ctx, &e)
}

// Delete removes the entry; children are detached via ON DELETE SET NULL.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	db, err := s.handle()
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: sqlite: delete %s: %v", storage.ErrStore, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: sqlite: delete %s: %v", storage.ErrStore, id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Query returns entries matching the filter, ordered by timestamp
// descending.
func (s *Store) Query(ctx context.Context, filter storage.QueryFilter) ([]*types.MemoryEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []any

	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.StartTime.UTC())
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.EndTime.UTC())
	}
	if filter.Search != "" {
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		conditions = append(conditions, "(LOWER(content) LIKE ? OR LOWER(tags) LIKE ?)")
		args = append(args, pattern, pattern)
	}
	if len(filter.Tags) > 0 {
		tagConds := make([]string, len(filter.Tags))
		for i, tag := range filter.Tags {
			tagConds[i] = "EXISTS (SELECT 1 FROM json_each(memory_entries.tags) WHERE json_each.value = ?)"
			args = append(args, tag)
		}
		conditions = append(conditions, "("+strings.Join(tagConds, " OR ")+")")
	}
	if filter.Namespace != "" {
		conditions = append(conditions, "json_extract(metadata, '$.namespace') = ?")
		args = append(args, filter.Namespace)
	}

	query := `SELECT ` + entryColumns + ` FROM memory_entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	// SQLite requires a LIMIT before OFFSET; -1 means unlimited.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var entries []*types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate entries: %w", err)
	}
	return entries, nil
}

// GetAllEntries returns every entry, newest first.
func (s *Store) GetAllEntries(ctx context.Context) ([]*types.MemoryEntry, error) {
	return s.Query(ctx, storage.QueryFilter{})
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

// GetHealthStatus never returns an error.
func (s *Store) GetHealthStatus(ctx context.Context) *storage.HealthStatus {
	db, err := s.handle()
	if err != nil {
		return &storage.HealthStatus{Healthy: false, Error: err.Error()}
	}

	if err := db.PingContext(ctx); err != nil {
		return &storage.HealthStatus{Healthy: false, Error: fmt.Sprintf("ping: %v", err)}
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries`).Scan(&count); err != nil {
		return &storage.HealthStatus{Healthy: false, Error: fmt.Sprintf("count: %v", err)}
	}

	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return &storage.HealthStatus{Healthy: false, Error: fmt.Sprintf("page_count: %v", err)}
	}
	if err := db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return &storage.HealthStatus{Healthy: false, Error: fmt.Sprintf("page_size: %v", err)}
	}

	stats := db.Stats()
	return &storage.HealthStatus{
		Healthy: true,
		Metrics: &storage.HealthMetrics{
			EntryCount:   count,
			StorageBytes: pageCount * pageSize,
			Pool: storage.PoolStats{
				Open:    stats.OpenConnections,
				Idle:    stats.Idle,
				InUse:   stats.InUse,
				Waiting: int(stats.WaitCount),
			},
		},
	}
}

// PerformMaintenance refreshes statistics and checkpoints the WAL. A full
// VACUUM would take the writer lock, so it is deliberately not issued here.
func (s *Store) PerformMaintenance(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrMaintenance, err)
	}

	for _, stmt := range []string{
		"ANALYZE",
		"PRAGMA optimize",
		"PRAGMA wal_checkpoint(TRUNCATE)",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: sqlite: %s: %v", storage.ErrMaintenance, stmt, err)
		}
	}
	return nil
}

// RecordSwarmMetadata upserts a coordination side-channel record.
func (s *Store) RecordSwarmMetadata(ctx context.Context, meta *types.SwarmMetadata) error {
	if meta == nil || meta.ID == "" {
		return fmt.Errorf("%w: swarm metadata ID is required", storage.ErrInvalidInput)
	}

	db, err := s.handle()
	if err != nil {
		return err
	}

	dataJSON, err := json.Marshal(orEmptyObject(meta.Data))
	if err != nil {
		return fmt.Errorf("sqlite: marshal swarm data: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO swarm_metadata (id, swarm_id, agent_id, type, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			swarm_id = excluded.swarm_id,
			agent_id = excluded.agent_id,
			type = excluded.type,
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP
	`, meta.ID, meta.SwarmID, nullableStringPtr(meta.AgentID), meta.Type, string(dataJSON))
	if err != nil {
		return fmt.Errorf("%w: sqlite: record swarm metadata: %v", storage.ErrStore, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*types.MemoryEntry, error) {
	var (
		entry        types.MemoryEntry
		contextJSON  string
		tagsJSON     string
		parentID     sql.NullString
		metadataJSON sql.NullString
	)

	err := row.Scan(
		&entry.ID,
		&entry.AgentID,
		&entry.SessionID,
		&entry.Type,
		&entry.Content,
		&contextJSON,
		&entry.Timestamp,
		&tagsJSON,
		&entry.Version,
		&parentID,
		&metadataJSON,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(contextJSON), &entry.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if entry.Tags == nil {
		entry.Tags = []string{}
	}
	if parentID.Valid {
		pid := parentID.String
		entry.ParentID = &pid
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &entry, nil
}

func orEmptyObject(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyArray(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func nullableStringPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}

var _ storage.BackendStore = (*Store)(nil)
