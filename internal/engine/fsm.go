package engine

import (
	"context"
	"sync"

	"github.com/voyra/relay/internal/store"
	"github.com/voyra/relay/pkg/schema"
)

// TransitionHook is called before or after a status transition.
type TransitionHook func(from, to schema.RecordStatus) error

type hookKey struct {
	from, to schema.RecordStatus
}

// RecordFSM validates owning-record status transitions and emits the
// corresponding run event on each one. Pipeline steps move records
// through it instead of writing statuses directly, so an illegal jump
// (completed back to processing, say) fails loudly.
type RecordFSM struct {
	mu       sync.Mutex
	appender store.EventAppender
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewRecordFSM creates a RecordFSM emitting events via the given appender.
// appender may be nil to disable event emission.
func NewRecordFSM(appender store.EventAppender) *RecordFSM {
	return &RecordFSM{
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *RecordFSM) OnBefore(from, to schema.RecordStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RecordFSM) OnAfter(from, to schema.RecordStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a record status transition, emitting
// the corresponding event. The caller is responsible for persisting the
// new status to the record store.
func (f *RecordFSM) Transition(ctx context.Context, runID, recordID string, from, to schema.RecordStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRecordTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid record transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "record_id": recordID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if f.appender != nil {
		if eventType := recordEventType(to); eventType != "" {
			event := &store.Event{
				RunID:    runID,
				RecordID: recordID,
				Type:     eventType,
			}
			if err := f.appender.AppendEvent(ctx, event); err != nil {
				return schema.NewErrorf(schema.ErrCodeStore, "emit record event: %s", err.Error()).WithCause(err)
			}
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	return nil
}

func isValidRecordTransition(from, to schema.RecordStatus) bool {
	allowed, ok := ValidRecordTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func recordEventType(to schema.RecordStatus) string {
	switch to {
	case schema.RecordStatusProcessing:
		return schema.EventRecordProcessing
	case schema.RecordStatusAwaitingFeedback:
		return schema.EventRecordAwaitingFeedback
	case schema.RecordStatusSummarised:
		return schema.EventRecordSummarised
	case schema.RecordStatusCompleted:
		return schema.EventRecordCompleted
	case schema.RecordStatusFailed:
		return schema.EventRecordFailed
	default:
		return ""
	}
}

// ValidRecordTransitions defines the allowed status transitions for
// owning records. Completed and failed are terminal.
var ValidRecordTransitions = map[schema.RecordStatus][]schema.RecordStatus{
	schema.RecordStatusPending:          {schema.RecordStatusProcessing, schema.RecordStatusFailed},
	schema.RecordStatusProcessing:       {schema.RecordStatusAwaitingFeedback, schema.RecordStatusSummarised, schema.RecordStatusCompleted, schema.RecordStatusFailed},
	schema.RecordStatusAwaitingFeedback: {schema.RecordStatusProcessing, schema.RecordStatusFailed},
	schema.RecordStatusSummarised:       {schema.RecordStatusCompleted, schema.RecordStatusFailed},
	schema.RecordStatusCompleted:        {},
	schema.RecordStatusFailed:           {},
}
