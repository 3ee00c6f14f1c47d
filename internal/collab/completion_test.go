package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyra/relay/pkg/schema"
)

const termsSchema = `{
	"type": "object",
	"properties": {
		"search_terms": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 1
		}
	},
	"required": ["search_terms"],
	"additionalProperties": false
}`

func TestValidateStructuredAcceptsConformingOutput(t *testing.T) {
	out, err := ValidateStructured(`{"search_terms":["a","b"]}`, []byte(termsSchema))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"search_terms": []any{"a", "b"}}, out)
}

func TestValidateStructuredRejectsMalformedJSON(t *testing.T) {
	_, err := ValidateStructured(`not json at all`, []byte(termsSchema))
	require.Error(t, err)
	var relayErr *schema.RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, schema.ErrCodeSchema, relayErr.Code)
}

func TestValidateStructuredRejectsNonConformingOutput(t *testing.T) {
	cases := []string{
		`{"search_terms":[]}`,
		`{"search_terms":[1,2]}`,
		`{"search_terms":["a"],"extra":true}`,
		`{"other_field":["a"]}`,
		`["a","b"]`,
	}
	for _, content := range cases {
		_, err := ValidateStructured(content, []byte(termsSchema))
		require.Error(t, err, "content %s should be rejected", content)
		var relayErr *schema.RelayError
		require.ErrorAs(t, err, &relayErr)
		assert.Equal(t, schema.ErrCodeSchema, relayErr.Code)
	}
}

func TestValidateStructuredRejectsBadSchema(t *testing.T) {
	_, err := ValidateStructured(`{}`, []byte(`{broken`))
	require.Error(t, err)
	var relayErr *schema.RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, schema.ErrCodeValidation, relayErr.Code)
}

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	srv := chatServer(t, "a concise summary")
	svc := NewHTTPCompletionService(CompletionConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "test"})

	out, err := svc.Complete(context.Background(), "summarise")
	require.NoError(t, err)
	assert.Equal(t, "a concise summary", out)
}

func TestCompleteStructuredValidates(t *testing.T) {
	srv := chatServer(t, `{"search_terms":["coffee roasting basics"]}`)
	svc := NewHTTPCompletionService(CompletionConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "test"})

	out, err := svc.CompleteStructured(context.Background(), "generate terms", []byte(termsSchema))
	require.NoError(t, err)
	assert.Equal(t, []any{"coffee roasting basics"}, out["search_terms"])
}

func TestCompleteStructuredFailsLoudlyOnBadOutput(t *testing.T) {
	srv := chatServer(t, `{"search_terms":"not an array"}`)
	svc := NewHTTPCompletionService(CompletionConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "test"})

	out, err := svc.CompleteStructured(context.Background(), "generate terms", []byte(termsSchema))
	require.Error(t, err)
	// Partial data from the model is never handed to the caller.
	assert.Nil(t, out)
	var relayErr *schema.RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, schema.ErrCodeSchema, relayErr.Code)
}

func TestCompleteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	t.Cleanup(srv.Close)
	svc := NewHTTPCompletionService(CompletionConfig{BaseURL: srv.URL, Model: "test"})

	_, err := svc.Complete(context.Background(), "prompt")
	require.Error(t, err)
	var relayErr *schema.RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, schema.ErrCodeCollaborator, relayErr.Code)
	assert.Contains(t, relayErr.Message, "rate limited")
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	t.Cleanup(srv.Close)
	svc := NewHTTPCompletionService(CompletionConfig{BaseURL: srv.URL, Model: "test"})

	_, err := svc.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
