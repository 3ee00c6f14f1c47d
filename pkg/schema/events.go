package schema

// Event type constants for the run event log.
const (
	EventRunStarted     = "run_started"
	EventRunCompleted   = "run_completed"
	EventRunFailed      = "run_failed"
	EventRunInterrupted = "run_interrupted"
	EventRunResumed     = "run_resumed"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"

	EventRecordProcessing       = "record_processing"
	EventRecordAwaitingFeedback = "record_awaiting_feedback"
	EventRecordSummarised       = "record_summarised"
	EventRecordCompleted        = "record_completed"
	EventRecordFailed           = "record_failed"
)

// RecordStatus represents the lifecycle state of an owning domain record.
// A record is the audit or research row the rest of the application reads;
// pipeline steps move it forward as the run progresses.
type RecordStatus string

const (
	RecordStatusPending          RecordStatus = "pending"
	RecordStatusProcessing       RecordStatus = "processing"
	RecordStatusAwaitingFeedback RecordStatus = "awaiting_feedback"
	RecordStatusSummarised       RecordStatus = "summarised"
	RecordStatusCompleted        RecordStatus = "completed"
	RecordStatusFailed           RecordStatus = "failed"
)

// RecordKind identifies which pipeline owns a record.
type RecordKind string

const (
	RecordKindAudit    RecordKind = "audit"
	RecordKindResearch RecordKind = "research"
)

// Feedback is the payload supplied when resuming an interrupted run.
// Keys mirror the clarification form: both fields are optional.
type Feedback struct {
	AdditionalContext  string   `json:"additional_context,omitempty"`
	RefinedSearchTerms []string `json:"refined_search_terms,omitempty"`
}

// ToMap converts the feedback into the map form the engine passes to the
// paused step.
func (f Feedback) ToMap() map[string]any {
	m := map[string]any{}
	if f.AdditionalContext != "" {
		m["additional_context"] = f.AdditionalContext
	}
	if len(f.RefinedSearchTerms) > 0 {
		terms := make([]any, len(f.RefinedSearchTerms))
		for i, t := range f.RefinedSearchTerms {
			terms[i] = t
		}
		m["refined_search_terms"] = terms
	}
	return m
}
