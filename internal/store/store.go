package store

import "context"

// RecordStore is the read/write sink for owning domain records. Pipeline
// steps only see this narrow interface.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	UpdateRecord(ctx context.Context, id string, update RecordUpdate) error
	ListRecords(ctx context.Context, filter RecordFilter) ([]*Record, error)
}

// SnapshotStore persists paused-run snapshots keyed by run ID. Save is an
// upsert; Load returns a NOT_FOUND RelayError on a miss; Delete is
// idempotent. Implementations must isolate distinct run IDs from each
// other (key-level, not a global lock).
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, runID string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, runID string) error
}

// EventAppender appends entries to the run event log. Satisfied by the
// Store and by test mocks.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *Event) error
}

// Store defines the full persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	RecordStore
	SnapshotStore

	// Event log (append-only)
	EventAppender
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	// Scheduled jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
