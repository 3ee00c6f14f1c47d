package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/voyra/relay/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Records ---

func (s *LibSQLStore) CreateRecord(ctx context.Context, rec *Record) error {
	terms, err := marshalSliceOrNil(rec.SearchTerms)
	if err != nil {
		return fmt.Errorf("marshal search_terms: %w", err)
	}
	qctx, err := nullableJSON(rec.QuestionContext)
	if err != nil {
		return fmt.Errorf("marshal question_context: %w", err)
	}
	now := timeOrNow(rec.CreatedAt)
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = schema.RecordStatusPending
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, kind, status, topic, website_url, search_terms, summary, report,
		                      question, question_context, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), string(rec.Status), nullStr(rec.Topic), nullStr(rec.WebsiteURL),
		terms, nullStr(rec.Summary), nullStr(rec.Report), nullStr(rec.Question), qctx,
		nullStr(rec.ErrorMessage), rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	rec := &Record{}
	var kind, status string
	var topic, websiteURL, terms, summary, report, question, qctx, errMsg sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, status, topic, website_url, search_terms, summary, report,
		        question, question_context, error_message, created_at, updated_at, completed_at
		 FROM records WHERE id = ?`, id,
	).Scan(&rec.ID, &kind, &status, &topic, &websiteURL, &terms, &summary, &report,
		&question, &qctx, &errMsg, &rec.CreatedAt, &rec.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("record", id)
	}
	if err != nil {
		return nil, err
	}
	rec.Kind = schema.RecordKind(kind)
	rec.Status = schema.RecordStatus(status)
	rec.Topic = topic.String
	rec.WebsiteURL = websiteURL.String
	rec.Summary = summary.String
	rec.Report = report.String
	rec.Question = question.String
	rec.QuestionContext = jsonOrNil(qctx)
	rec.ErrorMessage = errMsg.String
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	if terms.Valid && terms.String != "" {
		if err := json.Unmarshal([]byte(terms.String), &rec.SearchTerms); err != nil {
			return nil, fmt.Errorf("unmarshal search_terms: %w", err)
		}
	}
	return rec, nil
}

func (s *LibSQLStore) UpdateRecord(ctx context.Context, id string, update RecordUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.SearchTerms != nil {
		terms, err := marshalSliceOrNil(update.SearchTerms)
		if err != nil {
			return fmt.Errorf("marshal search_terms: %w", err)
		}
		sets = append(sets, "search_terms = ?")
		args = append(args, terms)
	}
	if update.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, *update.Summary)
	}
	if update.Report != nil {
		sets = append(sets, "report = ?")
		args = append(args, *update.Report)
	}
	if update.Question != nil {
		sets = append(sets, "question = ?")
		args = append(args, *update.Question)
	}
	if len(update.QuestionContext) > 0 {
		sets = append(sets, "question_context = ?")
		args = append(args, string(update.QuestionContext))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET `+joinSets(sets)+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "record", id)
}

func (s *LibSQLStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*Record, error) {
	query := `SELECT id FROM records WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// --- Snapshots ---

func (s *LibSQLStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	payload, err := nullableJSON(snap.Payload)
	if err != nil {
		return fmt.Errorf("marshal snapshot payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, record_id, pipeline, paused_step, state, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   record_id=excluded.record_id, pipeline=excluded.pipeline,
		   paused_step=excluded.paused_step, state=excluded.state,
		   payload=excluded.payload, created_at=excluded.created_at`,
		snap.RunID, snap.RecordID, snap.Pipeline, snap.PausedStep,
		string(snap.State), payload, timeOrNow(snap.CreatedAt),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save snapshot: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) LoadSnapshot(ctx context.Context, runID string) (*Snapshot, error) {
	snap := &Snapshot{}
	var state string
	var payload sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, record_id, pipeline, paused_step, state, payload, created_at
		 FROM snapshots WHERE run_id = ?`, runID,
	).Scan(&snap.RunID, &snap.RecordID, &snap.Pipeline, &snap.PausedStep, &state, &payload, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("snapshot", runID)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load snapshot: %s", err.Error()).WithCause(err)
	}
	snap.State = json.RawMessage(state)
	snap.Payload = jsonOrNil(payload)
	return snap, nil
}

func (s *LibSQLStore) DeleteSnapshot(ctx context.Context, runID string) error {
	// Idempotent: deleting a missing snapshot is not an error.
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE run_id = ?`, runID)
	return err
}

// --- Event log ---

// AppendEvent appends an event with a monotonically increasing per-run sequence.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := nullableJSON(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, record_id, step, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.RecordID), nullStr(event.Step), event.Type, payload, event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, record_id, step, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`, runID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var recordID, step, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &recordID, &step, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.RecordID = recordID.String
		e.Step = step.String
		e.Payload = jsonOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scheduled jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	seed, err := nullableJSON(job.Seed)
	if err != nil {
		return fmt.Errorf("marshal seed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, pipeline, cron_expression, seed, enabled, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Pipeline, job.CronExpression, seed, boolToInt(job.Enabled),
		nullTime(job.NextRunAt), timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var seed, lastStatus sql.NullString
	var enabled int
	var lastRun, nextRun sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline, cron_expression, seed, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.Pipeline, &job.CronExpression, &seed, &enabled, &lastRun, &nextRun, &lastStatus, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled job", id)
	}
	if err != nil {
		return nil, err
	}
	job.Seed = jsonOrNil(seed)
	job.Enabled = enabled != 0
	job.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	return job, nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	sets := []string{}
	var args []any
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET `+joinSets(sets)+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	query := `SELECT id FROM scheduled_jobs WHERE 1=1`
	var args []any
	if filter.Enabled != nil {
		query += ` AND enabled = ?`
		args = append(args, boolToInt(*filter.Enabled))
	}
	query += ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	jobs := make([]*ScheduledJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetScheduledJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	return err
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.RelayError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullableJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return string(raw), nil
}

func marshalSliceOrNil(ss []string) (any, error) {
	if ss == nil {
		return nil, nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinSets(sets []string) string {
	return strings.Join(sets, ", ")
}
