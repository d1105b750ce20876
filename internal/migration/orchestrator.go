package migration

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/hivemem/membridge/internal/storage"
	"github.com/hivemem/membridge/pkg/types"
)

// RunOptions selects the orchestrated run mode.
type RunOptions struct {
	DryRun bool // validate without writing
	Verify bool // run the post-migration consistency check (live runs only)
}

// Orchestrator composes the engine and verifier into a single
// initialize -> migrate -> verify -> shutdown lifecycle.
type Orchestrator struct {
	source   storage.SourceReader
	target   storage.BackendStore
	engine   *Engine
	verifier *Verifier
	swarmID  string
}

// NewOrchestrator wires an orchestrator over the given source and target.
// swarmID labels the run record in swarm_metadata; empty defaults to
// "membridge".
func NewOrchestrator(source storage.SourceReader, target storage.BackendStore, config EngineConfig, swarmID string) *Orchestrator {
	if swarmID == "" {
		swarmID = "membridge"
	}
	return &Orchestrator{
		source:   source,
		target:   target,
		engine:   NewEngine(source, target, config),
		verifier: NewVerifier(source, target),
		swarmID:  swarmID,
	}
}

// Run executes one full migration lifecycle. The source reader and the
// target store are shut down on every exit path; a verification failure
// surfaces as *storage.VerificationFailedError after the run itself has
// completed, with the stats still returned.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*types.MigrationStats, error) {
	defer func() {
		if err := o.target.Shutdown(); err != nil {
			log.Printf("migration: target shutdown: %v", err)
		}
		if err := o.source.Close(); err != nil {
			log.Printf("migration: source close: %v", err)
		}
	}()

	if !opts.DryRun {
		if err := o.target.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	if err := o.engine.Initialize(ctx); err != nil {
		return nil, err
	}

	stats, err := o.engine.Migrate(ctx, opts.DryRun)
	if err != nil {
		return nil, err
	}

	if opts.Verify && !opts.DryRun {
		report := o.verifier.VerifyMigration(ctx)
		if !report.Match || !report.SampleVerification {
			return stats, &storage.VerificationFailedError{Report: report}
		}
		log.Printf("verify: passed: source=%d target=%d", report.SourceCount, report.TargetCount)
	}

	if !opts.DryRun {
		o.recordRun(ctx, stats)
	}

	return stats, nil
}

// recordRun writes the run record into the swarm_metadata side-channel
// when the target supports it. Best-effort: a failure is logged, never
// surfaced, because the migration itself already succeeded.
func (o *Orchestrator) recordRun(ctx context.Context, stats *types.MigrationStats) {
	recorder, ok := o.target.(storage.MetadataRecorder)
	if !ok {
		return
	}

	data := map[string]any{}
	raw, err := json.Marshal(stats)
	if err == nil {
		err = json.Unmarshal(raw, &data)
	}
	if err != nil {
		log.Printf("migration: encode run record: %v", err)
		return
	}

	meta := &types.SwarmMetadata{
		ID:      uuid.New().String(),
		SwarmID: o.swarmID,
		Type:    "migration",
		Data:    data,
	}
	if err := recorder.RecordSwarmMetadata(ctx, meta); err != nil {
		log.Printf("migration: record run in swarm_metadata: %v", err)
	}
}
