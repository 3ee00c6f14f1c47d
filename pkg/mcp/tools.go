package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/voyra/relay/pkg/schema"
)

// handleStart launches a pipeline run and reports how it ended: a final
// report, or a parked run carrying a question for the caller.
func (s *RelayServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pipeline, err := req.RequireString("pipeline")
	if err != nil {
		return mcp.NewToolResultError("pipeline is required"), nil
	}
	seed := mcp.ParseStringMap(req, "seed", nil)

	result, runErr := s.runs.StartRun(ctx, pipeline, seed)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}

	out := map[string]any{
		"run_id":      result.RunID,
		"record_id":   result.State.GetString("record_id"),
		"interrupted": result.Interrupted,
	}
	if result.Interrupted {
		s.attachQuestion(ctx, result.RunID, out)
	} else {
		out["result"] = result.Result
	}
	return marshalResult(out)
}

// handleResume feeds a parked run and drives it onward.
func (s *RelayServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	fb := parseFeedback(mcp.ParseStringMap(req, "feedback", nil))

	result, runErr := s.runs.ResumeRun(ctx, runID, fb)
	if runErr != nil {
		if schema.IsNotFound(runErr) {
			return mcp.NewToolResultError(fmt.Sprintf("no parked run with id %s", runID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", runErr)), nil
	}

	out := map[string]any{
		"run_id":      result.RunID,
		"record_id":   result.State.GetString("record_id"),
		"interrupted": result.Interrupted,
	}
	if result.Interrupted {
		s.attachQuestion(ctx, result.RunID, out)
	} else {
		out["result"] = result.Result
	}
	return marshalResult(out)
}

// handleStatus reports on a record, a parked run, or both.
func (s *RelayServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recordID := req.GetString("record_id", "")
	runID := req.GetString("run_id", "")
	if recordID == "" && runID == "" {
		return mcp.NewToolResultError("record_id or run_id is required"), nil
	}

	out := map[string]any{}

	if runID != "" {
		snap, err := s.snapshots.LoadSnapshot(ctx, runID)
		switch {
		case schema.IsNotFound(err):
			out["run"] = map[string]any{"run_id": runID, "parked": false}
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("snapshot lookup failed: %v", err)), nil
		default:
			run := map[string]any{
				"run_id":      runID,
				"parked":      true,
				"pipeline":    snap.Pipeline,
				"paused_step": snap.PausedStep,
			}
			if len(snap.Payload) > 0 {
				var payload map[string]any
				if json.Unmarshal(snap.Payload, &payload) == nil {
					run["question"] = payload
				}
			}
			out["run"] = run
			if recordID == "" {
				recordID = snap.RecordID
			}
		}
	}

	if recordID != "" {
		rec, err := s.store.GetRecord(ctx, recordID)
		if err != nil {
			if schema.IsNotFound(err) {
				return mcp.NewToolResultError(fmt.Sprintf("no record with id %s", recordID)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("record lookup failed: %v", err)), nil
		}
		out["record"] = rec
	}

	return marshalResult(out)
}

// attachQuestion copies the parked run's question payload into the tool
// response so the agent can answer without a second call.
func (s *RelayServer) attachQuestion(ctx context.Context, runID string, out map[string]any) {
	snap, err := s.snapshots.LoadSnapshot(ctx, runID)
	if err != nil || len(snap.Payload) == 0 {
		return
	}
	var payload map[string]any
	if json.Unmarshal(snap.Payload, &payload) == nil {
		out["question"] = payload
	}
}

// parseFeedback maps the loose tool argument onto the typed feedback the
// paused step expects. Nil in, nil out.
func parseFeedback(raw map[string]any) *schema.Feedback {
	if raw == nil {
		return nil
	}
	fb := &schema.Feedback{}
	fb.AdditionalContext, _ = raw["additional_context"].(string)
	if terms, ok := raw["refined_search_terms"].([]any); ok {
		for _, t := range terms {
			if s, ok := t.(string); ok {
				fb.RefinedSearchTerms = append(fb.RefinedSearchTerms, s)
			}
		}
	}
	return fb
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
