package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/voyra/relay/pkg/schema"
)

// DefaultCompletionTimeout bounds one completion call.
const DefaultCompletionTimeout = 30 * time.Second

const defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB

// CompletionConfig configures the HTTP completion client.
type CompletionConfig struct {
	BaseURL string        // e.g. "https://api.openai.com/v1"
	APIKey  string
	Model   string
	Timeout time.Duration // 0 = DefaultCompletionTimeout
}

// HTTPCompletionService implements CompletionService against an
// OpenAI-compatible chat-completions API.
type HTTPCompletionService struct {
	cfg    CompletionConfig
	client *http.Client
}

// NewHTTPCompletionService creates a completion client.
func NewHTTPCompletionService(cfg CompletionConfig) *HTTPCompletionService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCompletionTimeout
	}
	return &HTTPCompletionService{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete returns a free-text completion for the prompt.
func (s *HTTPCompletionService) Complete(ctx context.Context, prompt string) (string, error) {
	return s.chat(ctx, chatRequest{
		Model:    s.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
}

// CompleteStructured requests JSON output and validates it against
// schemaJSON (JSON Schema Draft 2020-12). Unparseable or non-conforming
// output is a SCHEMA_ERROR; the model's partial data is never returned.
func (s *HTTPCompletionService) CompleteStructured(ctx context.Context, prompt string, schemaJSON []byte) (map[string]any, error) {
	content, err := s.chat(ctx, chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "Respond with a single JSON object conforming to this JSON Schema:\n" + string(schemaJSON)},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}
	return ValidateStructured(content, schemaJSON)
}

// chat executes one chat-completions call and returns the first choice's
// content.
func (s *HTTPCompletionService) chat(ctx context.Context, reqBody chatRequest) (string, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "marshal completion request: %s", err.Error()).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "build completion request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", schema.NewError(schema.ErrCodeTimeout, "completion call timed out").WithCause(err)
		}
		return "", schema.NewErrorf(schema.ErrCodeCollaborator, "completion call: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBody))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeCollaborator, "read completion response: %s", err.Error()).WithCause(err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeCollaborator,
			"decode completion response (status %d): %s", resp.StatusCode, err.Error()).WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("completion API returned status %d", resp.StatusCode)
		if parsed.Error != nil {
			msg = fmt.Sprintf("%s: %s", msg, parsed.Error.Message)
		}
		return "", schema.NewError(schema.ErrCodeCollaborator, msg).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	if len(parsed.Choices) == 0 {
		return "", schema.NewError(schema.ErrCodeCollaborator, "completion API returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ValidateStructured parses content as JSON and validates it against
// schemaJSON. Shared by the HTTP client and stub implementations so both
// fail loudly the same way.
func ValidateStructured(content string, schemaJSON []byte) (map[string]any, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(content))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSchema,
			"model output is not valid JSON: %s", err.Error()).WithCause(err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unmarshal response schema: %s", err.Error()).WithCause(err)
	}
	if err := c.AddResource("response.json", schemaDoc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"add response schema resource: %s", err.Error()).WithCause(err)
	}
	compiled, err := c.Compile("response.json")
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile response schema: %s", err.Error()).WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSchema,
			"model output does not conform to response schema: %s", err.Error()).WithCause(err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeSchema, "model output is not a JSON object")
	}
	return obj, nil
}
