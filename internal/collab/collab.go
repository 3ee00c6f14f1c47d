// Package collab defines the narrow interfaces relay uses to talk to its
// external collaborators: language-model completion, web search, and
// content fetching. Pipelines receive implementations at construction,
// so tests substitute stubs without network access.
package collab

import "context"

// CompletionService produces text from a language model.
type CompletionService interface {
	// Complete returns a free-text completion for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteStructured returns a completion constrained to the given
	// JSON Schema. Output that cannot be parsed and validated against
	// the schema fails with a SCHEMA_ERROR; partial data is never
	// returned.
	CompleteStructured(ctx context.Context, prompt string, schemaJSON []byte) (map[string]any, error)
}

// SearchResult is one ranked hit from the search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchResponse holds the ranked results for one query.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// SearchService runs a query against the search backend.
type SearchService interface {
	Search(ctx context.Context, query string) (*SearchResponse, error)
}

// PageContent is the extracted content of one fetched URL. On fetch or
// parse failure Success is false and the remaining fields are empty; the
// fetch service degrades rather than erroring, so a dead link does not
// kill a run unless the step chooses to treat it that way.
type PageContent struct {
	Success  bool              `json:"success"`
	Title    string            `json:"title"`
	Headings []string          `json:"headings"`
	Meta     map[string]string `json:"meta"`
	Content  string            `json:"content"`
	Links    []string          `json:"links"`
}

// ContentFetchService retrieves and extracts a URL's content.
type ContentFetchService interface {
	Fetch(ctx context.Context, url string) (*PageContent, error)
}
