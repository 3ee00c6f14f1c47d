package pipelines

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyra/relay/internal/collab"
	"github.com/voyra/relay/internal/engine"
	"github.com/voyra/relay/internal/store"
	"github.com/voyra/relay/pkg/schema"
)

// --- in-memory fakes ---

type memRecords struct {
	mu      sync.Mutex
	records map[string]*store.Record
	// statuses records every status a record passed through, in order.
	statuses map[string][]schema.RecordStatus
}

func newMemRecords() *memRecords {
	return &memRecords{
		records:  make(map[string]*store.Record),
		statuses: make(map[string][]schema.RecordStatus),
	}
}

func (m *memRecords) CreateRecord(_ context.Context, rec *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Status == "" {
		rec.Status = schema.RecordStatusPending
	}
	cp := *rec
	m.records[rec.ID] = &cp
	m.statuses[rec.ID] = append(m.statuses[rec.ID], rec.Status)
	return nil
}

func (m *memRecords) GetRecord(_ context.Context, id string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "record not found: %s", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecords) UpdateRecord(_ context.Context, id string, update store.RecordUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "record not found: %s", id)
	}
	if update.Status != nil {
		rec.Status = *update.Status
		m.statuses[id] = append(m.statuses[id], *update.Status)
	}
	if update.SearchTerms != nil {
		rec.SearchTerms = append([]string(nil), update.SearchTerms...)
	}
	if update.Summary != nil {
		rec.Summary = *update.Summary
	}
	if update.Report != nil {
		rec.Report = *update.Report
	}
	if update.Question != nil {
		rec.Question = *update.Question
	}
	if len(update.QuestionContext) > 0 {
		rec.QuestionContext = update.QuestionContext
	}
	if update.ErrorMessage != nil {
		rec.ErrorMessage = *update.ErrorMessage
	}
	if update.CompletedAt != nil {
		rec.CompletedAt = update.CompletedAt
	}
	return nil
}

func (m *memRecords) ListRecords(_ context.Context, _ store.RecordFilter) ([]*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Record, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRecords) statusPath(id string) []schema.RecordStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.RecordStatus(nil), m.statuses[id]...)
}

type memSnapshots struct {
	mu    sync.Mutex
	snaps map[string]*store.Snapshot
	saves int
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{snaps: make(map[string]*store.Snapshot)}
}

func (m *memSnapshots) SaveSnapshot(_ context.Context, snap *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snaps[snap.RunID] = &cp
	m.saves++
	return nil
}

func (m *memSnapshots) LoadSnapshot(_ context.Context, runID string) (*store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[runID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "snapshot not found for run %s", runID)
	}
	cp := *snap
	return &cp, nil
}

func (m *memSnapshots) DeleteSnapshot(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, runID)
	return nil
}

func (m *memSnapshots) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

// stubCompletion hands out canned structured output and free-text
// completions in call order.
type stubCompletion struct {
	mu          sync.Mutex
	structured  map[string]any
	completions []string
	calls       int
}

func (s *stubCompletion) Complete(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.completions) {
		return "", schema.NewError(schema.ErrCodeCollaborator, "stub out of completions")
	}
	out := s.completions[s.calls]
	s.calls++
	return out, nil
}

func (s *stubCompletion) CompleteStructured(_ context.Context, _ string, _ []byte) (map[string]any, error) {
	return s.structured, nil
}

type stubSearch struct {
	mu      sync.Mutex
	queries []string
}

func (s *stubSearch) Search(_ context.Context, query string) (*collab.SearchResponse, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	return &collab.SearchResponse{Results: []collab.SearchResult{
		{Title: "result for " + query, URL: "https://example.com/" + query, Content: "findings about " + query},
	}}, nil
}

type stubFetch struct {
	pages map[string]*collab.PageContent
}

func (s *stubFetch) Fetch(_ context.Context, url string) (*collab.PageContent, error) {
	if page, ok := s.pages[url]; ok {
		return page, nil
	}
	return &collab.PageContent{Success: false, Meta: map[string]string{}}, nil
}

// --- harness ---

type harness struct {
	records *memRecords
	snaps   *memSnapshots
	runner  *engine.Runner
}

func newHarness(t *testing.T, pipeline string, deps Deps) *harness {
	t.Helper()
	records := newMemRecords()
	snaps := newMemSnapshots()
	deps.Records = records

	graph, err := Build(pipeline, deps)
	require.NoError(t, err)

	return &harness{
		records: records,
		snaps:   snaps,
		runner:  engine.NewRunner(graph, snaps, nil, nil),
	}
}

func (h *harness) seedRecord(t *testing.T, rec *store.Record) {
	t.Helper()
	require.NoError(t, h.records.CreateRecord(context.Background(), rec))
}

// --- research pipeline ---

func TestResearchPipelineHappyPath(t *testing.T) {
	deps := Deps{
		Completion: &stubCompletion{
			structured:  map[string]any{"search_terms": []any{"coffee roasting", "first crack"}},
			completions: []string{"a tidy summary", "# Research Report\n\nFull findings."},
		},
		Search: &stubSearch{},
	}
	h := newHarness(t, PipelineResearch, deps)
	h.seedRecord(t, &store.Record{ID: "rec-1", Kind: schema.RecordKindResearch, Topic: "coffee roasting"})

	ctx := context.Background()
	started, err := h.runner.Start(ctx, map[string]any{KeyRecordID: "rec-1", KeyTopic: "coffee roasting"})
	require.NoError(t, err)

	// The clarify step always parks the first pass for review.
	require.True(t, started.Interrupted)
	rec, err := h.records.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RecordStatusAwaitingFeedback, rec.Status)
	assert.NotEmpty(t, rec.Question)

	// Accepting the terms as-is completes the run.
	final, err := h.runner.Resume(ctx, started.RunID, map[string]any{})
	require.NoError(t, err)
	require.False(t, final.Interrupted)

	assert.Equal(t, "rec-1", final.Result["record_id"])
	report, _ := final.Result["report"].(string)
	assert.NotEmpty(t, report)

	rec, err = h.records.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RecordStatusCompleted, rec.Status)
	assert.Equal(t, report, rec.Report)
	assert.Equal(t, "a tidy summary", rec.Summary)
	require.NotNil(t, rec.CompletedAt)

	assert.Equal(t, []schema.RecordStatus{
		schema.RecordStatusPending,
		schema.RecordStatusProcessing,
		schema.RecordStatusAwaitingFeedback,
		schema.RecordStatusProcessing,
		schema.RecordStatusSummarised,
		schema.RecordStatusCompleted,
	}, h.records.statusPath("rec-1"))

	assert.Equal(t, 0, h.snaps.count())
}

func TestResearchPipelineInterruptAndRefinedResume(t *testing.T) {
	search := &stubSearch{}
	deps := Deps{
		Completion: &stubCompletion{
			structured:  map[string]any{"search_terms": []any{"original term"}},
			completions: []string{"summary", "report body"},
		},
		Search: search,
	}
	h := newHarness(t, PipelineResearch, deps)
	h.seedRecord(t, &store.Record{ID: "rec-1", Kind: schema.RecordKindResearch, Topic: "espresso"})

	ctx := context.Background()
	started, err := h.runner.Start(ctx, map[string]any{KeyRecordID: "rec-1", KeyTopic: "espresso"})
	require.NoError(t, err)
	require.True(t, started.Interrupted)

	// Exactly one snapshot, and the run produced no result.
	assert.Equal(t, 1, h.snaps.saves)
	assert.Nil(t, started.Result)

	snap, err := h.snaps.LoadSnapshot(ctx, started.RunID)
	require.NoError(t, err)
	assert.Equal(t, "research.clarify", snap.PausedStep)
	assert.Equal(t, "rec-1", snap.RecordID)

	// The question is denormalized onto the record for the UI.
	rec, err := h.records.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RecordStatusAwaitingFeedback, rec.Status)
	assert.Contains(t, rec.Question, "search terms")
	assert.JSONEq(t, `{"search_terms":["original term"]}`, string(rec.QuestionContext))

	final, err := h.runner.Resume(ctx, started.RunID, map[string]any{
		"additional_context":   "focus on home machines",
		"refined_search_terms": []any{"espresso machines", "grind size"},
	})
	require.NoError(t, err)
	require.False(t, final.Interrupted)

	// The refined terms replaced the generated ones everywhere.
	assert.Equal(t, []string{"espresso machines", "grind size"}, final.State.GetStringSlice(KeySearchTerms))
	assert.Equal(t, []string{"espresso machines", "grind size"}, search.queries)
	assert.Equal(t, "focus on home machines", final.State.GetString(KeyExtraContext))

	rec, err = h.records.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"espresso machines", "grind size"}, rec.SearchTerms)
	assert.Equal(t, schema.RecordStatusCompleted, rec.Status)

	assert.Equal(t, 0, h.snaps.count())
}

func TestResearchPipelineMissingSeedFails(t *testing.T) {
	h := newHarness(t, PipelineResearch, Deps{Completion: &stubCompletion{}, Search: &stubSearch{}})
	h.seedRecord(t, &store.Record{ID: "rec-1", Kind: schema.RecordKindResearch})

	_, err := h.runner.Start(context.Background(), map[string]any{KeyRecordID: "rec-1"})
	require.Error(t, err)
	var relayErr *schema.RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, schema.ErrCodeValidation, relayErr.Code)
	assert.Equal(t, 0, h.snaps.saves)
}

// --- audit pipeline ---

func auditSite() map[string]*collab.PageContent {
	return map[string]*collab.PageContent{
		"https://acme.example": {
			Success:  true,
			Title:    "Acme",
			Headings: []string{"Welcome"},
			Meta:     map[string]string{"description": "widgets"},
			Content:  "We sell widgets.",
			Links:    []string{"https://acme.example/pricing", "https://acme.example/broken"},
		},
		"https://acme.example/pricing": {
			Success: true,
			Title:   "Pricing",
			Meta:    map[string]string{},
			Content: "Plans and prices.",
		},
		// /broken is absent: the stub returns Success=false for it.
	}
}

func TestAuditPipelineHappyPathWithFailedLink(t *testing.T) {
	deps := Deps{
		Completion: &stubCompletion{
			// One analysis per reachable link, then summary, then report.
			completions: []string{"pricing page looks fine", "site summary", "# Audit Report"},
		},
		Search: &stubSearch{},
		Fetch:  &stubFetch{pages: auditSite()},
	}
	h := newHarness(t, PipelineAudit, deps)
	h.seedRecord(t, &store.Record{ID: "rec-1", Kind: schema.RecordKindAudit, WebsiteURL: "https://acme.example"})

	ctx := context.Background()
	result, err := h.runner.Start(ctx, map[string]any{KeyRecordID: "rec-1", KeyWebsiteURL: "https://acme.example"})
	require.NoError(t, err)
	require.False(t, result.Interrupted)
	assert.Equal(t, "# Audit Report", result.Result["report"])

	// One finding per discovered link; the dead one is a failure marker,
	// not a run failure.
	findings, ok := result.State.Get(KeyLinkFindings)
	require.True(t, ok)
	list, ok := findings.([]any)
	require.True(t, ok)
	require.Len(t, list, 2)

	first := list[0].(map[string]any)
	assert.Equal(t, "analysed", first["status"])
	assert.Equal(t, "https://acme.example/pricing", first["url"])
	assert.Equal(t, "pricing page looks fine", first["analysis"])

	second := list[1].(map[string]any)
	assert.Equal(t, "failed", second["status"])
	assert.Equal(t, "https://acme.example/broken", second["url"])
	assert.NotEmpty(t, second["error"])

	rec, err := h.records.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RecordStatusCompleted, rec.Status)
	assert.Equal(t, "# Audit Report", rec.Report)
	assert.Equal(t, []schema.RecordStatus{
		schema.RecordStatusPending,
		schema.RecordStatusProcessing,
		schema.RecordStatusSummarised,
		schema.RecordStatusCompleted,
	}, h.records.statusPath("rec-1"))
}

func TestAuditPipelineUnreachableSiteFailsWithoutSnapshot(t *testing.T) {
	deps := Deps{
		Completion: &stubCompletion{},
		Search:     &stubSearch{},
		Fetch:      &stubFetch{pages: map[string]*collab.PageContent{}},
	}
	h := newHarness(t, PipelineAudit, deps)
	h.seedRecord(t, &store.Record{ID: "rec-1", Kind: schema.RecordKindAudit, WebsiteURL: "https://down.example"})

	_, err := h.runner.Start(context.Background(), map[string]any{
		KeyRecordID: "rec-1", KeyWebsiteURL: "https://down.example",
	})
	require.Error(t, err)
	var relayErr *schema.RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, schema.ErrCodeCollaborator, relayErr.Code)

	// A plain failure never writes a snapshot.
	assert.Equal(t, 0, h.snaps.saves)
}

func TestBuildUnknownPipeline(t *testing.T) {
	_, err := Build("nonexistent", Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pipeline")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{PipelineResearch, PipelineAudit}, Names())
}
