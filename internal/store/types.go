package store

import (
	"encoding/json"
	"time"

	"github.com/voyra/relay/pkg/schema"
)

// Record is the owning domain record a pipeline run is anchored to.
// One run mutates exactly one record; the surrounding application reads it
// to render progress and results. Result fields are monotonically appended
// to — a failed run leaves earlier writes in place.
type Record struct {
	ID          string              `json:"id"`
	Kind        schema.RecordKind   `json:"kind"`
	Status      schema.RecordStatus `json:"status"`
	Topic       string              `json:"topic,omitempty"`       // research
	WebsiteURL  string              `json:"website_url,omitempty"` // audit
	SearchTerms []string            `json:"search_terms,omitempty"`
	Summary     string              `json:"summary,omitempty"`
	Report      string              `json:"report,omitempty"`
	// Question and QuestionContext are the denormalized copy of a pending
	// interrupt, so the UI renders the paused state without touching the
	// opaque snapshot.
	Question        string          `json:"question,omitempty"`
	QuestionContext json.RawMessage `json:"question_context,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// RecordUpdate specifies mutable fields of a record. Nil fields are left
// untouched.
type RecordUpdate struct {
	Status          *schema.RecordStatus `json:"status,omitempty"`
	SearchTerms     []string             `json:"search_terms,omitempty"`
	Summary         *string              `json:"summary,omitempty"`
	Report          *string              `json:"report,omitempty"`
	Question        *string              `json:"question,omitempty"`
	QuestionContext json.RawMessage      `json:"question_context,omitempty"`
	ErrorMessage    *string              `json:"error_message,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

// RecordFilter specifies criteria for listing records.
type RecordFilter struct {
	Kind   schema.RecordKind    `json:"kind,omitempty"`
	Status *schema.RecordStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// Snapshot is the persisted state of one interrupted run. At most one live
// snapshot exists per run ID (last write wins via upsert). State and
// Payload are tagged JSON so the format survives redeployments.
type Snapshot struct {
	RunID      string          `json:"run_id"`
	RecordID   string          `json:"record_id"`
	Pipeline   string          `json:"pipeline"`
	PausedStep string          `json:"paused_step"`
	State      json.RawMessage `json:"state"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Event is an immutable entry in the run event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	RecordID  string          `json:"record_id,omitempty"`
	Step      string          `json:"step,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ScheduledJob is a cron-triggered recurring pipeline run.
type ScheduledJob struct {
	ID             string          `json:"id"`
	Pipeline       string          `json:"pipeline"`
	CronExpression string          `json:"cron_expression"`
	Seed           json.RawMessage `json:"seed,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
