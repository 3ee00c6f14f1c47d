package pipelines

import (
	"context"
	"log/slog"

	"github.com/voyra/relay/internal/engine"
	"github.com/voyra/relay/internal/store"
	"github.com/voyra/relay/pkg/schema"
)

// Audit pipeline event kinds: fetch → analyse links → summarise → report.
const (
	kindSiteFetched     engine.EventKind = "site_fetched"
	kindLinksAnalysed   engine.EventKind = "links_analysed"
	kindAuditSummarised engine.EventKind = "audit_summarised"
)

type siteFetchedEvent struct{}

func (siteFetchedEvent) Kind() engine.EventKind { return kindSiteFetched }

type linksAnalysedEvent struct{}

func (linksAnalysedEvent) Kind() engine.EventKind { return kindLinksAnalysed }

type auditSummarisedEvent struct{}

func (auditSummarisedEvent) Kind() engine.EventKind { return kindAuditSummarised }

// maxAuditLinks caps how many discovered internal links one audit
// analyses.
const maxAuditLinks = 10

const linkAnalysisPrompt = `Assess this page for on-page SEO quality: title,
heading structure, meta description, and content relevance. Report concrete
problems, not generic advice.

URL: ${{ link_url }}
Title: ${{ link_title }}
Headings: ${{ link_headings }}
Meta: ${{ link_meta }}

Content:
${{ link_content }}`

const auditSummaryPrompt = `Summarise the SEO health of the site below from the
homepage analysis and the per-page findings. Lead with the most serious issues.

Site: ${{ website_url }}
Title: ${{ site_title }}
Headings: ${{ site_headings }}
Meta: ${{ site_meta }}

Page findings:
${{ link_findings }}`

const auditReportPrompt = `Write a complete SEO audit report for the site below.
Structure it with an executive summary, per-page findings, and prioritised
recommendations.

Site: ${{ website_url }}

Summary:
${{ summary }}

Page findings:
${{ link_findings }}`

// NewAuditGraph builds the audit pipeline.
func NewAuditGraph(deps Deps) (*engine.Graph, error) {
	return engine.NewGraph(PipelineAudit,
		&fetchSiteStep{deps: deps},
		&analyseLinksStep{deps: deps},
		&summariseAuditStep{deps: deps},
		&auditReportStep{deps: deps},
	)
}

// --- fetch site ---

// fetchSiteStep marks the record processing and pulls the target page.
// An unreachable target fails the run: there is nothing to audit.
type fetchSiteStep struct {
	deps Deps
}

func (s *fetchSiteStep) Name() string              { return "audit.fetch_site" }
func (s *fetchSiteStep) Handles() engine.EventKind { return engine.KindStart }

func (s *fetchSiteStep) Invoke(ctx context.Context, _ engine.Event, state *engine.SharedState) (engine.Event, error) {
	recordID := state.GetString(KeyRecordID)
	siteURL := state.GetString(KeyWebsiteURL)
	if recordID == "" || siteURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"audit seed requires record_id and website_url").WithStep(s.Name())
	}

	if err := setStatus(ctx, s.deps, recordID, schema.RecordStatusPending, schema.RecordStatusProcessing); err != nil {
		return nil, err
	}

	page, err := s.deps.Fetch.Fetch(ctx, siteURL)
	if err != nil {
		return nil, err
	}
	if !page.Success {
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator,
			"target site %s could not be fetched", siteURL).WithStep(s.Name())
	}

	state.Set(KeySiteTitle, page.Title)
	state.Set(KeySiteHeadings, anySlice(page.Headings))
	state.Set(KeySiteMeta, anyMap(page.Meta))
	state.Set(KeySiteContent, page.Content)
	state.Set(KeySiteLinks, anySlice(dedupe(page.Links, maxAuditLinks)))

	s.deps.Logger.InfoContext(ctx, "site fetched",
		slog.String("title", page.Title), slog.Int("links", len(page.Links)))
	return siteFetchedEvent{}, nil
}

// --- analyse links ---

// analyseLinksStep fetches and analyses each discovered internal page.
// A single page failing is recorded as a per-link marker and the audit
// continues; only the overall run-level collaborators failing hard stops
// the run.
type analyseLinksStep struct {
	deps Deps
}

func (s *analyseLinksStep) Name() string              { return "audit.analyse_links" }
func (s *analyseLinksStep) Handles() engine.EventKind { return kindSiteFetched }

func (s *analyseLinksStep) Invoke(ctx context.Context, _ engine.Event, state *engine.SharedState) (engine.Event, error) {
	links := state.GetStringSlice(KeySiteLinks)

	findings := make([]any, 0, len(links))
	for _, link := range links {
		finding, err := s.analyseLink(ctx, link)
		if err != nil {
			s.deps.Logger.WarnContext(ctx, "link analysis failed",
				slog.String("url", link), slog.String("error", err.Error()))
			findings = append(findings, map[string]any{
				"url":    link,
				"status": "failed",
				"error":  err.Error(),
			})
			continue
		}
		findings = append(findings, finding)
	}

	state.Set(KeyLinkFindings, findings)
	s.deps.Logger.InfoContext(ctx, "links analysed", slog.Int("count", len(findings)))
	return linksAnalysedEvent{}, nil
}

func (s *analyseLinksStep) analyseLink(ctx context.Context, link string) (map[string]any, error) {
	page, err := s.deps.Fetch.Fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	if !page.Success {
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator, "page %s could not be fetched", link)
	}

	prompt, err := s.deps.Interp.Render(linkAnalysisPrompt, map[string]any{
		"link_url":      link,
		"link_title":    page.Title,
		"link_headings": anySlice(page.Headings),
		"link_meta":     anyMap(page.Meta),
		"link_content":  truncate(page.Content, 4000),
	})
	if err != nil {
		return nil, err
	}
	analysis, err := s.deps.Completion.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"url":      link,
		"title":    page.Title,
		"status":   "analysed",
		"analysis": analysis,
	}, nil
}

// --- summarise ---

type summariseAuditStep struct {
	deps Deps
}

func (s *summariseAuditStep) Name() string              { return "audit.summarise" }
func (s *summariseAuditStep) Handles() engine.EventKind { return kindLinksAnalysed }

func (s *summariseAuditStep) Invoke(ctx context.Context, _ engine.Event, state *engine.SharedState) (engine.Event, error) {
	recordID := state.GetString(KeyRecordID)

	prompt, err := s.deps.Interp.Render(auditSummaryPrompt, state.Data())
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
	return auditSummarisedEvent{}, nil
}

// --- report ---

type auditReportStep struct {
	deps Deps
}

func (s *auditReportStep) Name() string              { return "audit.report" }
func (s *auditReportStep) Handles() engine.EventKind { return kindAuditSummarised }

func (s *auditReportStep) Invoke(ctx context.Context, _ engine.Event, state *engine.SharedState) (engine.Event, error) {
	recordID := state.GetString(KeyRecordID)

	prompt, err := s.deps.Interp.Render(auditReportPrompt, state.Data())
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

// --- helpers ---

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func anyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func dedupe(links []string, limit int) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, limit)
	for _, l := range links {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
