package pipelines

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/voyra/relay/internal/engine"
	"github.com/voyra/relay/internal/logging"
	"github.com/voyra/relay/internal/store"
	"github.com/voyra/relay/pkg/schema"
)

// Research pipeline event kinds. Dispatch by kind makes the graph's edges
// explicit here: initialise → clarify → search → summarise → report.
const (
	kindResearchInitialised engine.EventKind = "research_initialised"
	kindTermsRefined        engine.EventKind = "search_terms_refined"
	kindSearchCompleted     engine.EventKind = "search_completed"
	kindResearchSummarised  engine.EventKind = "research_summarised"
)

type researchInitialisedEvent struct{}

func (researchInitialisedEvent) Kind() engine.EventKind { return kindResearchInitialised }

type termsRefinedEvent struct{}

func (termsRefinedEvent) Kind() engine.EventKind { return kindTermsRefined }

type searchCompletedEvent struct{}

func (searchCompletedEvent) Kind() engine.EventKind { return kindSearchCompleted }

type researchSummarisedEvent struct{}

func (researchSummarisedEvent) Kind() engine.EventKind { return kindResearchSummarised }

// searchTermsSchema constrains the structured completion that proposes
// search terms for a topic.
const searchTermsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["search_terms"],
  "properties": {
    "search_terms": {
      "type": "array",
      "minItems": 1,
      "maxItems": 8,
      "items": { "type": "string", "minLength": 1 }
    }
  },
  "additionalProperties": false
}`

const searchTermsPrompt = `You are planning research on the topic below.
Propose focused web search queries that together cover the topic.

Topic: ${{ topic }}`

const researchSummaryPrompt = `Summarise the key findings below into a coherent
overview of the topic. Be factual and cite nothing that is not in the findings.

Topic: ${{ topic }}
Additional context: ${{ additional_context ?? "none" }}

Findings:
${{ search_results }}`

const researchReportPrompt = `Write a thorough, well-structured research report
on the topic below, building on the summary and findings. Use headings and
plain prose.

Topic: ${{ topic }}
Additional context: ${{ additional_context ?? "none" }}

Summary:
${{ summary }}

Findings:
${{ search_results }}`

// NewResearchGraph builds the research pipeline.
func NewResearchGraph(deps Deps) (*engine.Graph, error) {
	return engine.NewGraph(PipelineResearch,
		&initialiseResearchStep{deps: deps},
		&clarifyStep{deps: deps},
		&searchStep{deps: deps},
		&summariseResearchStep{deps: deps},
		&researchReportStep{deps: deps},
	)
}

// --- initialise ---

// initialiseResearchStep marks the record processing and generates the
// initial search terms with a schema-constrained completion.
type initialiseResearchStep struct {
	deps Deps
}

func (s *initialiseResearchStep) Name() string              { return "research.initialise" }
func (s *initialiseResearchStep) Handles() engine.EventKind { return engine.KindStart }

func (s *initialiseResearchStep) Invoke(ctx context.Context, _ engine.Event, state *engine.SharedState) (engine.Event, error) {
	recordID := state.GetString(KeyRecordID)
	topic := state.GetString(KeyTopic)
	if recordID == "" || topic == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"research seed requires record_id and topic").WithStep(s.Name())
	}

	if err := setStatus(ctx, s.deps, recordID, schema.RecordStatusPending, schema.RecordStatusProcessing); err != nil {
		return nil, err
	}

	prompt, err := s.deps.Interp.Render(searchTermsPrompt, state.Data())
	if err != nil {
		return nil, err
	}
	out, err := s.deps.Completion.CompleteStructured(ctx, prompt, []byte(searchTermsSchema))
	if err != nil {
		return nil, err
	}

	terms := stringSlice(out["search_terms"])
	state.Set(KeySearchTerms, terms)
	if err := s.deps.Records.UpdateRecord(ctx, recordID, store.RecordUpdate{SearchTerms: terms}); err != nil {
		return nil, err
	}

	s.deps.Logger.InfoContext(ctx, "search terms generated", slog.Int("count", len(terms)))
	return researchInitialisedEvent{}, nil
}

// --- clarify (interrupt-capable) ---

const clarifyQuestion = "Do these search terms cover what you want researched? " +
	"Refine them or add context before the search runs."

// clarifyStep pauses the run for human review of the generated terms.
//
// The step body is replayed from the top on resume, so everything before
// the Await call is guarded to be repeat-safe: the question and status
// are only written while the record is still processing.
type clarifyStep struct {
	deps Deps
}

func (s *clarifyStep) Name() string              { return "research.clarify" }
func (s *clarifyStep) Handles() engine.EventKind { return kindResearchInitialised }

func (s *clarifyStep) Invoke(ctx context.Context, _ engine.Event, state *engine.SharedState) (engine.Event, error) {
	recordID := state.GetString(KeyRecordID)
	terms := state.GetStringSlice(KeySearchTerms)

	rec, err := s.deps.Records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status == schema.RecordStatusProcessing {
		// Denormalize the question so the UI renders the paused state
		// without touching the snapshot.
		question := clarifyQuestion
		qctx, err := json.Marshal(map[string]any{"search_terms": terms})
		if err != nil {
			return nil, err
		}
		if err := s.deps.Records.UpdateRecord(ctx, recordID, store.RecordUpdate{
			Question:        &question,
			QuestionContext: qctx,
		}); err != nil {
			return nil, err
		}
		if err := setStatus(ctx, s.deps, recordID, schema.RecordStatusProcessing, schema.RecordStatusAwaitingFeedback); err != nil {
			return nil, err
		}
	}

	feedback, err := engine.Await(ctx, map[string]any{
		"question":     clarifyQuestion,
		"search_terms": terms,
	})
	if err != nil {
		return nil, err
	}

	if extra, ok := feedback["additional_context"].(string); ok && extra != "" {
		state.Set(KeyExtraContext, extra)
	}
	if refined := stringSlice(feedback["refined_search_terms"]); len(refined) > 0 {
		state.Set(KeySearchTerms, refined)
		if err := s.deps.Records.UpdateRecord(ctx, recordID, store.RecordUpdate{SearchTerms: refined}); err != nil {
			return nil, err
		}
	}

	if err := setStatus(ctx, s.deps, recordID, schema.RecordStatusAwaitingFeedback, schema.RecordStatusProcessing); err != nil {
		return nil, err
	}
	return termsRefinedEvent{}, nil
}

// --- search ---

// searchStep runs every term through the search backend and accumulates
// ranked results in state.
type searchStep struct {
	deps Deps
}

func (s *searchStep) Name() string              { return "research.search" }
func (s *searchStep) Handles() engine.EventKind { return kindTermsRefined }

func (s *searchStep) Invoke(ctx context.Context, _ engine.Event, state *engine.SharedState) (engine.Event, error) {
	terms := state.GetStringSlice(KeySearchTerms)
	if len(terms) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "no search terms to run").WithStep(s.Name())
	}

	var results []any
	for _, term := range terms {
		resp, err := s.deps.Search.Search(ctx, term)
		if err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			results = append(results, map[string]any{
				"term":    term,
				"title":   r.Title,
				"url":     r.URL,
				"content": r.Content,
			})
		}
	}

	state.Set(KeySearchResults, results)
	s.deps.Logger.InfoContext(ctx, "search completed",
		slog.Int("terms", len(terms)), slog.Int("results", len(results)))
	return searchCompletedEvent{}, nil
}

// --- summarise ---

type summariseResearchStep struct {
	deps Deps
}

func (s *summariseResearchStep) Name() string              { return "research.summarise" }
func (s *summariseResearchStep) Handles() engine.EventKind { return kindSearchCompleted }

func (s *summariseResearchStep) Invoke(ctx context.Context, _ engine.Event, state *engine.SharedState) (engine.Event, error) {
	recordID := state.GetString(KeyRecordID)

	prompt, err := s.deps.Interp.Render(researchSummaryPrompt, state.Data())
	if err != nil {
		return nil, err
	}
	summary, err := s.deps.Completion.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	state.Set(KeySummary, summary)
	if err := s.deps.Records.UpdateRecord(ctx, recordID, store.RecordUpdate{Summary: &summary}); err != nil {
		return nil, err
	}
	if err := setStatus(ctx, s.deps, recordID, schema.RecordStatusProcessing, schema.RecordStatusSummarised); err != nil {
		return nil, err
	}
	return researchSummarisedEvent{}, nil
}

// --- report ---

type researchReportStep struct {
	deps Deps
}

func (s *researchReportStep) Name() string              { return "research.report" }
func (s *researchReportStep) Handles() engine.EventKind { return kindResearchSummarised }

func (s *researchReportStep) Invoke(ctx context.Context, _ engine.Event, state *engine.SharedState) (engine.Event, error) {
	recordID := state.GetString(KeyRecordID)

	prompt, err := s.deps.Interp.Render(researchReportPrompt, state.Data())
	if err != nil {
		return nil, err
	}
	report, err := s.deps.Completion.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if report == "" {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "model returned an empty report").WithStep(s.Name())
	}

	state.Set(KeyReport, report)
	if err := completeRecord(ctx, s.deps, recordID, report, schema.RecordStatusSummarised); err != nil {
		return nil, err
	}

	return engine.StopEvent{Result: map[string]any{
		"record_id": recordID,
		"report":    report,
	}}, nil
}

// completeRecord writes the final report and moves the record to
// completed with a completion timestamp.
func completeRecord(ctx context.Context, deps Deps, recordID, report string, from schema.RecordStatus) error {
	if err := deps.Records.UpdateRecord(ctx, recordID, store.RecordUpdate{Report: &report}); err != nil {
		return err
	}
	if err := deps.FSM.Transition(ctx, logging.RunID(ctx), recordID, from, schema.RecordStatusCompleted); err != nil {
		return err
	}
	status := schema.RecordStatusCompleted
	now := time.Now().UTC()
	return deps.Records.UpdateRecord(ctx, recordID, store.RecordUpdate{Status: &status, CompletedAt: &now})
}

// stringSlice coerces []string or []any into a clean string slice.
func stringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
