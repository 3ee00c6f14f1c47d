package engine

// EventKind is the typed tag carried between steps. The kind's identity
// alone selects the next step; the graph's edges are implicit in which
// kinds each step declares and produces.
type EventKind string

// Universal kinds present in every pipeline.
const (
	KindStart EventKind = "start"
	KindStop  EventKind = "stop"
)

// Event is a typed marker passed from one step to the next.
type Event interface {
	Kind() EventKind
}

// StartEvent begins a run. Exactly one is produced per run, by the runner.
type StartEvent struct{}

func (StartEvent) Kind() EventKind { return KindStart }

// StopEvent terminates a run and carries the run's result value.
type StopEvent struct {
	Result map[string]any
}

func (StopEvent) Kind() EventKind { return KindStop }

// resumeEvent re-enters a paused step. It adopts the kind the step
// handles, so dispatch-by-kind still holds on the resume path.
type resumeEvent struct {
	kind EventKind
}

func (e resumeEvent) Kind() EventKind { return e.kind }
