// Package pipelines defines the two shipped pipelines — the open-topic
// research report generator and the SEO website audit — as graphs of
// steps over the engine. Steps hold no per-run data; everything flows
// through the shared state, keyed by the constants below.
package pipelines

import (
	"context"
	"log/slog"

	"github.com/voyra/relay/internal/collab"
	"github.com/voyra/relay/internal/engine"
	"github.com/voyra/relay/internal/expressions"
	"github.com/voyra/relay/internal/logging"
	"github.com/voyra/relay/internal/store"
	"github.com/voyra/relay/pkg/schema"
)

// Pipeline names accepted by Build.
const (
	PipelineResearch = "research"
	PipelineAudit    = "audit"
)

// Shared-state keys used across steps.
const (
	KeyRecordID      = engine.StateKeyRecordID
	KeyTopic         = "topic"
	KeyWebsiteURL    = "website_url"
	KeySearchTerms   = "search_terms"
	KeySearchResults = "search_results"
	KeyExtraContext  = "additional_context"
	KeySummary       = "summary"
	KeyReport        = "report"
	KeySiteTitle     = "site_title"
	KeySiteHeadings  = "site_headings"
	KeySiteMeta      = "site_meta"
	KeySiteContent   = "site_content"
	KeySiteLinks     = "site_links"
	KeyLinkFindings  = "link_findings"
)

// Deps bundles everything a pipeline's steps need. Collaborators are
// injected here, never read from globals, so tests run the full graphs
// against stubs.
type Deps struct {
	Records    store.RecordStore
	FSM        *engine.RecordFSM
	Completion collab.CompletionService
	Search     collab.SearchService
	Fetch      collab.ContentFetchService
	Interp     *expressions.Interpolator
	Logger     *slog.Logger
}

func (d *Deps) normalize() {
	if d.Interp == nil {
		d.Interp = expressions.NewInterpolator()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.FSM == nil {
		d.FSM = engine.NewRecordFSM(nil)
	}
}

// Build constructs the graph for the named pipeline. An unknown name is a
// validation error.
func Build(name string, deps Deps) (*engine.Graph, error) {
	deps.normalize()
	switch name {
	case PipelineResearch:
		return NewResearchGraph(deps)
	case PipelineAudit:
		return NewAuditGraph(deps)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown pipeline %q", name)
	}
}

// Names lists the registered pipeline names.
func Names() []string {
	return []string{PipelineResearch, PipelineAudit}
}

// setStatus moves the record through the FSM and persists the new status
// in one motion.
func setStatus(ctx context.Context, deps Deps, recordID string, from, to schema.RecordStatus) error {
	if err := deps.FSM.Transition(ctx, logging.RunID(ctx), recordID, from, to); err != nil {
		return err
	}
	status := to
	return deps.Records.UpdateRecord(ctx, recordID, store.RecordUpdate{Status: &status})
}
