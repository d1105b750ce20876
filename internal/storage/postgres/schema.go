// Package postgres provides the PostgreSQL implementation of the membridge
// backend store. It is the relational migration target.
package postgres

// Schema contains the idempotent DDL for the membridge target database.
// Evolution is additive-only: every statement uses IF NOT EXISTS and
// nothing here ever drops or narrows a column.
const Schema = `
-- Memory entries: the primary entity
CREATE TABLE IF NOT EXISTS memory_entries (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL,
    context JSONB NOT NULL DEFAULT '{}'::jsonb,
    timestamp TIMESTAMPTZ NOT NULL,
    tags JSONB NOT NULL DEFAULT '[]'::jsonb,
    version INTEGER NOT NULL DEFAULT 1,

    -- Self-referential forest. Deleting a parent clears the child's
    -- reference; children are never cascaded away.
    parent_id TEXT REFERENCES memory_entries(id) ON DELETE SET NULL,

    metadata JSONB,

    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Swarm metadata: coordination side-channel written by tooling
CREATE TABLE IF NOT EXISTS swarm_metadata (
    id TEXT PRIMARY KEY,
    swarm_id TEXT NOT NULL,
    agent_id TEXT,
    type TEXT NOT NULL,
    data JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Worktree sessions: workspace-to-agent assignment map
CREATE TABLE IF NOT EXISTS worktree_sessions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    workspace_path TEXT NOT NULL,
    agent_assignments JSONB NOT NULL DEFAULT '{}'::jsonb,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Equality lookups
CREATE INDEX IF NOT EXISTS idx_memory_entries_agent_id ON memory_entries(agent_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_session_id ON memory_entries(session_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_type ON memory_entries(type);
CREATE INDEX IF NOT EXISTS idx_memory_entries_parent_id ON memory_entries(parent_id);
CREATE INDEX IF NOT EXISTS idx_memory_entries_timestamp ON memory_entries(timestamp);

-- Containment lookups on the JSON columns
CREATE INDEX IF NOT EXISTS idx_memory_entries_tags ON memory_entries USING GIN(tags);
CREATE INDEX IF NOT EXISTS idx_memory_entries_context ON memory_entries USING GIN(context);
CREATE INDEX IF NOT EXISTS idx_memory_entries_metadata ON memory_entries USING GIN(metadata);

CREATE INDEX IF NOT EXISTS idx_swarm_metadata_swarm_id ON swarm_metadata(swarm_id);
CREATE INDEX IF NOT EXISTS idx_swarm_metadata_type ON swarm_metadata(type);
CREATE INDEX IF NOT EXISTS idx_worktree_sessions_status ON worktree_sessions(status);
`

// SchemaFTS adds full-text search support over content. Kept separate from
// the base schema because older servers occasionally reject plpgsql
// trigger creation for unprivileged roles; a failure degrades search to
// ILIKE scans instead of aborting initialization.
const SchemaFTS = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memory_entries' AND column_name = 'content_tsv'
    ) THEN
        ALTER TABLE memory_entries ADD COLUMN content_tsv tsvector;
    END IF;
END
$$;

UPDATE memory_entries SET content_tsv = to_tsvector('english', content) WHERE content_tsv IS NULL;

CREATE INDEX IF NOT EXISTS idx_memory_entries_content_tsv ON memory_entries USING GIN(content_tsv);

CREATE OR REPLACE FUNCTION memory_entries_tsv_update()
RETURNS TRIGGER AS $$
BEGIN
    NEW.content_tsv := to_tsvector('english', COALESCE(NEW.content, ''));
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS memory_entries_tsv_trigger ON memory_entries;
CREATE TRIGGER memory_entries_tsv_trigger
    BEFORE INSERT OR UPDATE OF content
    ON memory_entries
    FOR EACH ROW
    EXECUTE FUNCTION memory_entries_tsv_update();
`
