package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voyra/relay/internal/logging"
	"github.com/voyra/relay/internal/store"
	"github.com/voyra/relay/pkg/schema"
)

// StateKeyRecordID is the shared-state key pipelines use for the owning
// record's ID. The runner reads it when building snapshots so the paused
// record can be found without deserializing the state.
const StateKeyRecordID = "record_id"

// RunResult is the outcome of one Start or Resume invocation: either the
// run reached Stop and Result holds the run's result value, or it parked
// on an interrupt and Interrupted is true.
type RunResult struct {
	RunID       string
	Interrupted bool
	Result      map[string]any
	State       *SharedState
}

// Runner drives one graph from Start to Stop or to an interrupt, and
// re-enters parked runs from a snapshot.
//
// Within a run, steps execute strictly sequentially. Step failures are
// not caught here: they propagate to the job wrapper, which owns the
// failure path. The runner writes a snapshot only on the explicit
// interrupt path, never on failure.
type Runner struct {
	graph     *Graph
	snapshots store.SnapshotStore
	events    store.EventAppender
	logger    *slog.Logger
}

// NewRunner creates a runner for the given graph. events may be nil to
// disable the run audit log.
func NewRunner(graph *Graph, snapshots store.SnapshotStore, events store.EventAppender, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{graph: graph, snapshots: snapshots, events: events, logger: logger}
}

// Start executes the graph from its Start event with a fresh state built
// from seed. It returns when the run produces Stop or parks on an
// interrupt.
func (r *Runner) Start(ctx context.Context, seed map[string]any) (*RunResult, error) {
	runID := uuid.NewString()
	state := NewSharedState(seed)

	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithPipeline(ctx, r.graph.Name())
	r.logger.InfoContext(ctx, "run started")
	r.appendEvent(ctx, runID, state, schema.EventRunStarted, "")

	return r.loop(ctx, runID, StartEvent{}, state)
}

// Resume loads the snapshot for runID, reconstructs the state, and
// re-invokes the paused step with feedback visible through Await. A
// missing snapshot surfaces as a NOT_FOUND error; it must not silently
// no-op.
//
// The paused step's whole body is re-executed, not just the code after
// its Await call. Pre-interrupt side effects therefore run again on
// every resume; this replay semantic is part of the step contract.
func (r *Runner) Resume(ctx context.Context, runID string, feedback map[string]any) (*RunResult, error) {
	snap, err := r.snapshots.LoadSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}

	state := NewSharedState(nil)
	if err := json.Unmarshal(snap.State, state); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"decode snapshot state for run %s: %s", runID, err.Error()).WithCause(err)
	}

	step, err := r.graph.StepByName(snap.PausedStep)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithPipeline(ctx, r.graph.Name())
	r.logger.InfoContext(ctx, "run resumed", slog.String("paused_step", snap.PausedStep))
	r.appendEvent(ctx, runID, state, schema.EventRunResumed, snap.PausedStep)

	// Feedback is visible only to the paused step's re-invocation.
	next, err := r.invoke(WithFeedback(ctx, feedback), runID, step, resumeEvent{kind: step.Handles()}, state)
	if err != nil {
		return r.handleInvokeErr(ctx, runID, step, state, err)
	}

	// The run moved past the interrupt; the snapshot is stale.
	if err := r.snapshots.DeleteSnapshot(ctx, runID); err != nil {
		return nil, err
	}

	return r.loop(ctx, runID, next, state)
}

// loop dispatches events to steps until Stop or an interrupt.
func (r *Runner) loop(ctx context.Context, runID string, event Event, state *SharedState) (*RunResult, error) {
	for {
		if event.Kind() == KindStop {
			stop, _ := event.(StopEvent)
			r.logger.InfoContext(ctx, "run completed")
			r.appendEvent(ctx, runID, state, schema.EventRunCompleted, "")
			return &RunResult{RunID: runID, Result: stop.Result, State: state}, nil
		}

		step, err := r.graph.Dispatch(event)
		if err != nil {
			return nil, err
		}

		next, err := r.invoke(ctx, runID, step, event, state)
		if err != nil {
			return r.handleInvokeErr(ctx, runID, step, state, err)
		}
		event = next
	}
}

// invoke runs one step with step-scoped logging context.
func (r *Runner) invoke(ctx context.Context, runID string, step Step, event Event, state *SharedState) (Event, error) {
	stepCtx := logging.WithStep(ctx, step.Name())
	r.logger.DebugContext(stepCtx, "step started", slog.String("event", string(event.Kind())))

	next, err := step.Invoke(stepCtx, event, state)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "step returned no event").WithStep(step.Name())
	}
	r.logger.DebugContext(stepCtx, "step completed", slog.String("next", string(next.Kind())))
	return next, nil
}

// handleInvokeErr separates the interrupt path from plain failure. An
// interrupt persists exactly one snapshot and returns a parked result;
// anything else propagates untouched.
func (r *Runner) handleInvokeErr(ctx context.Context, runID string, step Step, state *SharedState, err error) (*RunResult, error) {
	var intr *Interrupt
	if !errors.As(err, &intr) {
		return nil, err
	}

	stateJSON, merr := json.Marshal(state)
	if merr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"serialize state for run %s: %s", runID, merr.Error()).WithCause(merr)
	}
	var payloadJSON json.RawMessage
	if len(intr.Payload) > 0 {
		payloadJSON, merr = json.Marshal(intr.Payload)
		if merr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"serialize interrupt payload for run %s: %s", runID, merr.Error()).WithCause(merr)
		}
	}

	snap := &store.Snapshot{
		RunID:      runID,
		RecordID:   state.GetString(StateKeyRecordID),
		Pipeline:   r.graph.Name(),
		PausedStep: step.Name(),
		State:      stateJSON,
		Payload:    payloadJSON,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "run interrupted", slog.String("paused_step", step.Name()))
	r.appendEvent(ctx, runID, state, schema.EventRunInterrupted, step.Name())

	return &RunResult{RunID: runID, Interrupted: true, State: state}, nil
}

// appendEvent records a run transition in the audit log. Log failures are
// reported but do not fail the run.
func (r *Runner) appendEvent(ctx context.Context, runID string, state *SharedState, eventType, step string) {
	if r.events == nil {
		return
	}
	err := r.events.AppendEvent(ctx, &store.Event{
		RunID:    runID,
		RecordID: state.GetString(StateKeyRecordID),
		Step:     step,
		Type:     eventType,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "append run event failed",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}
