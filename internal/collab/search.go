package collab

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/voyra/relay/internal/expressions"
	"github.com/voyra/relay/pkg/schema"
)

// DefaultSearchTimeout bounds one search call.
const DefaultSearchTimeout = 15 * time.Second

// SearchConfig configures the HTTP search client. The jq expressions
// adapt the backend's response shape: ResultsExpr must yield the array of
// hits, and the field expressions are evaluated against each hit.
// Defaults match a SearxNG-style JSON API.
type SearchConfig struct {
	BaseURL     string        // e.g. "https://searx.example.com/search"
	APIKey      string        // optional bearer token
	Timeout     time.Duration // 0 = DefaultSearchTimeout
	ResultsExpr string        // default ".results"
	TitleExpr   string        // default ".title"
	URLExpr     string        // default ".url"
	ContentExpr string        // default ".content"
}

// HTTPSearchService implements SearchService against a JSON search API.
type HTTPSearchService struct {
	cfg    SearchConfig
	client *http.Client
	jq     *expressions.GoJQEngine
}

// NewHTTPSearchService creates a search client.
func NewHTTPSearchService(cfg SearchConfig) *HTTPSearchService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSearchTimeout
	}
	if cfg.ResultsExpr == "" {
		cfg.ResultsExpr = ".results"
	}
	if cfg.TitleExpr == "" {
		cfg.TitleExpr = ".title"
	}
	if cfg.URLExpr == "" {
		cfg.URLExpr = ".url"
	}
	if cfg.ContentExpr == "" {
		cfg.ContentExpr = ".content"
	}
	return &HTTPSearchService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		jq:     expressions.NewGoJQEngine(),
	}
}

// Search runs one query and extracts ranked results via the configured jq
// expressions.
func (s *HTTPSearchService) Search(ctx context.Context, query string) (*SearchResponse, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid search base URL: %s", err.Error()).WithCause(err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "build search request: %s", err.Error()).WithCause(err)
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, schema.NewError(schema.ErrCodeTimeout, "search call timed out").WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator, "search call: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator,
			"search API returned status %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "query": query})
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator, "read search response: %s", err.Error()).WithCause(err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator, "decode search response: %s", err.Error()).WithCause(err)
	}

	return s.extract(ctx, doc)
}

func (s *HTTPSearchService) extract(ctx context.Context, doc any) (*SearchResponse, error) {
	hits, err := s.jq.Evaluate(ctx, s.cfg.ResultsExpr, doc)
	if err != nil {
		return nil, err
	}
	items, _ := hits.([]any)

	out := &SearchResponse{Results: make([]SearchResult, 0, len(items))}
	for _, item := range items {
		result := SearchResult{}
		if v, err := s.jq.Evaluate(ctx, s.cfg.TitleExpr, item); err == nil {
			result.Title, _ = v.(string)
		}
		if v, err := s.jq.Evaluate(ctx, s.cfg.URLExpr, item); err == nil {
			result.URL, _ = v.(string)
		}
		if v, err := s.jq.Evaluate(ctx, s.cfg.ContentExpr, item); err == nil {
			result.Content, _ = v.(string)
		}
		if result.URL == "" && result.Title == "" {
			continue
		}
		out.Results = append(out.Results, result)
	}
	return out, nil
}
