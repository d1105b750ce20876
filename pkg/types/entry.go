// Package types defines the canonical data model shared by the membridge
// storage backends and the migration pipeline.
package types

import "time"

// MemoryEntry is the atomic unit of agent memory. Entries are scoped to an
// agent and a session, carry a free-form content payload, and may reference
// a parent entry to form a forest (never a cycle by construction: parents
// are created before children by producers).
type MemoryEntry struct {
	// Core identification fields
	ID        string `json:"id"`        // Globally unique identifier; immutable once created
	AgentID   string `json:"agentId"`   // Owning agent
	SessionID string `json:"sessionId"` // Session the entry was produced in
	Type      string `json:"type"`      // Entry kind (e.g. "observation", "decision")

	// Payload
	Content string         `json:"content"`           // Raw content payload
	Context map[string]any `json:"context"`           // Structured context (empty object when unset)
	Tags    []string       `json:"tags"`              // User/agent tags; queryable via contains-any
	Version int            `json:"version"`           // Positive revision counter, defaults to 1

	// Optional fields: nil means "absent", which is distinct from an
	// explicit null/empty value.
	ParentID *string        `json:"parentId,omitempty"` // Reference to another entry's ID
	Metadata map[string]any `json:"metadata,omitempty"` // Free-form metadata; "namespace" sub-key is filterable

	// Ordering and bookkeeping
	Timestamp time.Time `json:"timestamp"` // When the memory event occurred; migration order key
	CreatedAt time.Time `json:"createdAt"` // When the row was first written to the backend
	UpdatedAt time.Time `json:"updatedAt"` // Refreshed on every upsert
}

// MigrationStats summarizes one migration run. It is returned to the
// caller and never persisted (a JSON copy may be written to the
// swarm_metadata side-channel by the orchestrator).
type MigrationStats struct {
	TotalEntries    int   `json:"totalEntries"`    // Source row count at run start
	MigratedEntries int   `json:"migratedEntries"` // Rows validated (dry run) or written (live)
	SkippedEntries  int   `json:"skippedEntries"`  // Rows rejected by validation
	Errors          int   `json:"errors"`          // Rows lost to failed batch writes
	DurationMS      int64 `json:"duration"`        // Wall-clock duration in milliseconds
}

// SwarmMetadata is a coordination side-channel record. membridge only
// writes these (one per completed migration run); other swarm tooling
// reads them.
type SwarmMetadata struct {
	ID        string         `json:"id"`
	SwarmID   string         `json:"swarmId"`
	AgentID   *string        `json:"agentId,omitempty"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// WorktreeSession maps a named workspace to its agent assignments.
// Owned by external tooling; membridge only creates the table.
type WorktreeSession struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	WorkspacePath string            `json:"workspacePath"`
	Assignments   map[string]string `json:"agentAssignments"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}
