// Package jobs executes pipeline runs as jobs: one job carries one run
// from start to stop or to an interrupt. The job layer owns the failure
// path — a step error marks the owning record failed and is re-raised
// for the caller's retry policy — while the engine owns the interrupt
// path.
package jobs

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/voyra/relay/internal/engine"
	"github.com/voyra/relay/internal/logging"
	"github.com/voyra/relay/internal/pipelines"
	"github.com/voyra/relay/internal/store"
	"github.com/voyra/relay/pkg/schema"
)

// Runner executes and resumes pipeline runs. Graphs are built once at
// construction; a bounded pool caps how many independent runs (distinct
// run IDs) execute at a time.
type Runner struct {
	store     store.Store
	snapshots store.SnapshotStore
	runners   map[string]*engine.Runner
	pool      *Pool
	logger    *slog.Logger
}

// NewRunner wires every registered pipeline into an engine runner.
// snapshots may be nil, in which case snapshots live in the main store.
func NewRunner(st store.Store, snapshots store.SnapshotStore, deps pipelines.Deps, concurrency int, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if snapshots == nil {
		snapshots = st
	}
	if deps.Records == nil {
		deps.Records = st
	}
	if deps.FSM == nil {
		deps.FSM = engine.NewRecordFSM(st)
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}

	runners := make(map[string]*engine.Runner, len(pipelines.Names()))
	for _, name := range pipelines.Names() {
		graph, err := pipelines.Build(name, deps)
		if err != nil {
			return nil, err
		}
		runners[name] = engine.NewRunner(graph, snapshots, st, logger)
	}

	return &Runner{
		store:     st,
		snapshots: snapshots,
		runners:   runners,
		pool:      NewPool(concurrency),
		logger:    logger,
	}, nil
}

// StartRun creates the owning record when the seed has none and drives
// the named pipeline until it stops or parks. A step failure marks the
// record failed and is returned to the caller.
func (r *Runner) StartRun(ctx context.Context, pipeline string, seed map[string]any) (*engine.RunResult, error) {
	er, ok := r.runners[pipeline]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown pipeline %q", pipeline)
	}

	recordID, seed, err := r.ensureRecord(ctx, pipeline, seed)
	if err != nil {
		return nil, err
	}

	result, err := er.Start(ctx, seed)
	if err != nil {
		r.failRecord(ctx, recordID, err)
		return nil, err
	}
	return result, nil
}

// StartRunAsync submits the run to the pool and returns the record ID
// immediately. The record is created synchronously so the caller can
// poll it.
func (r *Runner) StartRunAsync(ctx context.Context, pipeline string, seed map[string]any) (string, error) {
	if _, ok := r.runners[pipeline]; !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown pipeline %q", pipeline)
	}
	recordID, seed, err := r.ensureRecord(ctx, pipeline, seed)
	if err != nil {
		return "", err
	}

	err = r.pool.Submit(ctx, func(ctx context.Context) error {
		er := r.runners[pipeline]
		if _, err := er.Start(ctx, seed); err != nil {
			r.failRecord(ctx, recordID, err)
			r.logger.ErrorContext(ctx, "run failed",
				slog.String("pipeline", pipeline),
				slog.String("record_id", recordID),
				slog.String("error", err.Error()))
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return recordID, nil
}

// ResumeRun re-enters the parked run identified by runID, handing the
// feedback to the paused step. A missing snapshot is a NOT_FOUND error.
func (r *Runner) ResumeRun(ctx context.Context, runID string, fb *schema.Feedback) (*engine.RunResult, error) {
	snap, err := r.snapshots.LoadSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	er, ok := r.runners[snap.Pipeline]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"snapshot for run %s names unknown pipeline %q", runID, snap.Pipeline)
	}

	var feedback map[string]any
	if fb != nil {
		feedback = fb.ToMap()
	}

	result, err := er.Resume(ctx, runID, feedback)
	if err != nil {
		r.failRecord(ctx, snap.RecordID, err)
		return nil, err
	}
	return result, nil
}

// Shutdown drains the pool.
func (r *Runner) Shutdown() {
	r.pool.Shutdown()
}

// Stats exposes the pool counters.
func (r *Runner) Stats() PoolStats {
	return r.pool.Stats()
}

// ensureRecord resolves the owning record for a run, creating a pending
// one from the seed when the seed carries no record_id.
func (r *Runner) ensureRecord(ctx context.Context, pipeline string, seed map[string]any) (string, map[string]any, error) {
	if seed == nil {
		seed = map[string]any{}
	}
	if id, _ := seed[pipelines.KeyRecordID].(string); id != "" {
		if _, err := r.store.GetRecord(ctx, id); err != nil {
			return "", nil, err
		}
		return id, seed, nil
	}

	rec := &store.Record{
		ID:     uuid.NewString(),
		Kind:   recordKind(pipeline),
		Status: schema.RecordStatusPending,
	}
	rec.Topic, _ = seed[pipelines.KeyTopic].(string)
	rec.WebsiteURL, _ = seed[pipelines.KeyWebsiteURL].(string)
	if err := r.store.CreateRecord(ctx, rec); err != nil {
		return "", nil, err
	}

	seed[pipelines.KeyRecordID] = rec.ID
	return rec.ID, seed, nil
}

// failRecord moves the owning record to failed with the run error. An
// already-terminal record is left alone; failures here are logged, not
// returned, so they never mask the run error.
func (r *Runner) failRecord(ctx context.Context, recordID string, runErr error) {
	if recordID == "" {
		return
	}
	rec, err := r.store.GetRecord(ctx, recordID)
	if err != nil {
		r.logger.WarnContext(ctx, "load record for failure marking",
			slog.String("record_id", recordID), slog.String("error", err.Error()))
		return
	}
	if rec.Status == schema.RecordStatusCompleted || rec.Status == schema.RecordStatusFailed {
		return
	}

	if err := r.store.AppendEvent(ctx, &store.Event{
		RunID:    logging.RunID(ctx),
		RecordID: recordID,
		Type:     schema.EventRunFailed,
	}); err != nil {
		r.logger.WarnContext(ctx, "append run_failed event",
			slog.String("record_id", recordID), slog.String("error", err.Error()))
	}

	failed := schema.RecordStatusFailed
	msg := runErr.Error()
	err = r.store.UpdateRecord(ctx, recordID, store.RecordUpdate{Status: &failed, ErrorMessage: &msg})
	if err != nil {
		r.logger.WarnContext(ctx, "mark record failed",
			slog.String("record_id", recordID), slog.String("error", err.Error()))
	}
}

func recordKind(pipeline string) schema.RecordKind {
	if pipeline == pipelines.PipelineAudit {
		return schema.RecordKindAudit
	}
	return schema.RecordKindResearch
}
