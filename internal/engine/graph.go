package engine

import (
	"github.com/voyra/relay/pkg/schema"
)

// Graph is the fixed set of steps for one pipeline, indexed by the event
// kind each step handles. It holds no per-run state and is safe to share
// across concurrent runs.
type Graph struct {
	name    string
	byKind  map[EventKind]Step
	byName  map[string]Step
	ordered []Step
}

// NewGraph builds a graph from the given steps. Two steps claiming the
// same event kind, or a step claiming the stop kind, is a configuration
// error.
func NewGraph(name string, steps ...Step) (*Graph, error) {
	g := &Graph{
		name:   name,
		byKind: make(map[EventKind]Step, len(steps)),
		byName: make(map[string]Step, len(steps)),
	}
	for _, s := range steps {
		kind := s.Handles()
		if kind == KindStop {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"step %q cannot handle the terminal %q event", s.Name(), KindStop)
		}
		if existing, ok := g.byKind[kind]; ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"event kind %q claimed by both %q and %q", kind, existing.Name(), s.Name())
		}
		if _, ok := g.byName[s.Name()]; ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"duplicate step name %q", s.Name())
		}
		g.byKind[kind] = s
		g.byName[s.Name()] = s
		g.ordered = append(g.ordered, s)
	}
	return g, nil
}

// Name returns the pipeline name this graph implements.
func (g *Graph) Name() string { return g.name }

// Steps returns the graph's steps in registration order.
func (g *Graph) Steps() []Step { return g.ordered }

// Dispatch returns the step registered for the event's kind. A missing
// handler is a configuration error in the pipeline definition, not a
// business error, and is never swallowed.
func (g *Graph) Dispatch(event Event) (Step, error) {
	step, ok := g.byKind[event.Kind()]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNoHandler,
			"no step registered for event kind %q in pipeline %q", event.Kind(), g.name)
	}
	return step, nil
}

// StepByName returns the step with the given name, used to re-enter a
// paused step on resume.
func (g *Graph) StepByName(name string) (Step, error) {
	step, ok := g.byName[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNoHandler,
			"no step named %q in pipeline %q", name, g.name)
	}
	return step, nil
}
