package engine

import "context"

// Step is one unit of work in a pipeline. A step receives its triggering
// event and the run's shared state, performs side effects (collaborator
// calls, record writes, state mutations), and returns exactly one
// outgoing event selecting the next step.
//
// Steps must be stateless: all per-run data lives in SharedState, so a
// graph can serve concurrent runs. Dependencies (collaborators, the
// record store) are injected at construction.
type Step interface {
	// Name identifies the step; it is recorded in snapshots so a paused
	// run can be re-entered at the right place.
	Name() string

	// Handles declares the event kind that triggers this step.
	Handles() EventKind

	// Invoke runs the step. An interrupt-capable step may return an
	// *Interrupt through the error value to request suspension.
	Invoke(ctx context.Context, event Event, state *SharedState) (Event, error)
}
