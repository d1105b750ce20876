package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/hivemem/membridge/pkg/types"
)

var (
	// ErrNotFound indicates that the requested entry does not exist.
	// Point lookups return it so callers can distinguish absence from
	// failure; absence is not treated as an error condition upstream.
	ErrNotFound = errors.New("entry not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidation indicates a malformed source row. Always recovered
	// locally (counted as skipped), never propagated out of a run.
	ErrValidation = errors.New("validation failed")

	// ErrInitialization indicates pool, schema, or connectivity setup
	// failure. Fatal: nothing moves after it.
	ErrInitialization = errors.New("initialization failed")

	// ErrStore indicates a target-side write failure (constraint
	// violation or connectivity loss).
	ErrStore = errors.New("store operation failed")

	// ErrMaintenance indicates the underlying engine rejected a
	// maintenance request or does not support it.
	ErrMaintenance = errors.New("maintenance failed")

	// ErrNotInitialized indicates an operation was invoked before
	// Initialize completed.
	ErrNotInitialized = errors.New("not initialized")
)

// QueryFilter selects entries for BackendStore.Query. All set fields are
// AND-combined; a zero field means "no constraint on that field", not
// "match absent values".
type QueryFilter struct {
	AgentID   string    // Exact match on agent_id
	SessionID string    // Exact match on session_id
	Type      string    // Exact match on type
	StartTime time.Time // Inclusive lower bound on timestamp
	EndTime   time.Time // Inclusive upper bound on timestamp
	Search    string    // Case-insensitive content match OR textual tag match
	Tags      []string  // OR-match: entry's tag set contains any of these
	Namespace string    // Exact match on metadata.namespace
	Limit     int       // Applied after filtering; 0 means unlimited
	Offset    int       // Applied after Limit ordering; 0 means none
}

// HealthStatus is the never-failing health probe result.
type HealthStatus struct {
	Healthy bool           `json:"healthy"`
	Error   string         `json:"error,omitempty"`
	Metrics *HealthMetrics `json:"metrics,omitempty"`
}

// HealthMetrics reports store size and pool utilization.
type HealthMetrics struct {
	EntryCount   int       `json:"entryCount"`
	StorageBytes int64     `json:"storageBytes"`
	Pool         PoolStats `json:"pool"`
}

// PoolStats mirrors the bounded connection pool counters.
type PoolStats struct {
	Open    int `json:"open"`    // Connections currently open
	Idle    int `json:"idle"`    // Open but unused
	InUse   int `json:"inUse"`   // Borrowed right now
	Waiting int `json:"waiting"` // Cumulative acquisitions that had to wait
}

// VerificationReport is the outcome of a post-migration consistency check.
type VerificationReport struct {
	SourceCount        int  `json:"sourceCount"`
	TargetCount        int  `json:"targetCount"`
	Match              bool `json:"match"`
	SampleVerification bool `json:"sampleVerification"`
}

// MigrationError wraps an unrecovered failure during a migration run.
// Stats carries whatever accumulated before the failure so operators can
// see how far the run got.
type MigrationError struct {
	Stats *types.MigrationStats
	Err   error
}

func (e *MigrationError) Error() string {
	if e.Stats != nil {
		return fmt.Sprintf("migration failed after %d/%d entries: %v",
			e.Stats.MigratedEntries, e.Stats.TotalEntries, e.Err)
	}
	return fmt.Sprintf("migration failed: %v", e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// VerificationFailedError reports a failed post-run consistency check.
// The run itself already completed; the report explains what diverged.
type VerificationFailedError struct {
	Report VerificationReport
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("verification failed: source=%d target=%d match=%t sample=%t",
		e.Report.SourceCount, e.Report.TargetCount, e.Report.Match, e.Report.SampleVerification)
}
