// Package sqlite provides the SQLite implementation of the membridge
// backend store and the read-only source reader used by migration. The
// driver is modernc.org/sqlite (CGO-free).
package sqlite

// Schema contains the idempotent DDL for the row-store backend. JSON
// columns are TEXT holding serialized JSON; JSON1 functions handle tag and
// namespace filtering.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '{}',
    timestamp TIMESTAMP NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    version INTEGER NOT NULL DEFAULT 1,
    parent_id TEXT REFERENCES memory_entries(id) ON DELETE SET NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS swarm_metadata (
    id TEXT PRIMARY KEY,
    swarm_id TEXT NOT NULL,
    agent_id TEXT,
    type TEXT NOT NULL,
    data TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS worktree_sessions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    workspace_path TEXT NOT NULL,
    agent_assignments TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memory_entries_agent_id ON memory_entries(agent_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_session_id ON memory_entries(session_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_type ON memory_entries(type);
CREATE INDEX IF NOT EXISTS idx_memory_entries_parent_id ON memory_entries(parent_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_timestamp ON memory_entries(timestamp);

-- Namespace lookups go through an expression index instead of a JSON scan.
CREATE INDEX IF NOT EXISTS idx_memory_entries_namespace
    ON memory_entries(json_extract(metadata, '$.namespace'));

CREATE INDEX IF NOT EXISTS idx_swarm_metadata_swarm_id ON swarm_metadata(swarm_id);
CREATE INDEX IF NOT EXISTS idx_swarm_metadata_type ON swarm_metadata(type);
CREATE INDEX IF NOT EXISTS idx_worktree_sessions_status ON worktree_sessions(status);
`
