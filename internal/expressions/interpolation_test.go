package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSubstitutesReferences(t *testing.T) {
	interp := NewInterpolator()

	out, err := interp.Render("Research ${{ topic }} using ${{ count }} terms", map[string]any{
		"topic": "coffee roasting",
		"count": 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Research coffee roasting using 5 terms", out)
}

func TestRenderWithoutReferences(t *testing.T) {
	interp := NewInterpolator()

	out, err := interp.Render("no references here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no references here", out)
}

func TestRenderComplexValuesAsJSON(t *testing.T) {
	interp := NewInterpolator()

	out, err := interp.Render("results: ${{ results }}", map[string]any{
		"results": []any{map[string]any{"title": "a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `results: [{"title":"a"}]`, out)
}

func TestRenderExpressionWithFallback(t *testing.T) {
	interp := NewInterpolator()

	out, err := interp.Render(`context: ${{ additional_context ?? "none" }}`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "context: none", out)

	out, err = interp.Render(`context: ${{ additional_context ?? "none" }}`, map[string]any{
		"additional_context": "recent sources only",
	})
	require.NoError(t, err)
	assert.Equal(t, "context: recent sources only", out)
}

func TestRenderUnresolvableReferenceFails(t *testing.T) {
	interp := NewInterpolator()

	_, err := interp.Render("${{ missing.field.chain( }}", nil)
	require.Error(t, err)
}

func TestExprEngineCachesPrograms(t *testing.T) {
	e := NewExprEngine()

	v1, err := e.Evaluate("a + b", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, v1)

	// Same expression, different data; exercises the cached program.
	v2, err := e.Evaluate("a + b", map[string]any{"a": 10, "b": 20})
	require.NoError(t, err)
	assert.EqualValues(t, 30, v2)
}

func TestGoJQEvaluate(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	doc := map[string]any{
		"results": []any{
			map[string]any{"title": "first", "url": "https://a"},
			map[string]any{"title": "second", "url": "https://b"},
		},
	}

	v, err := e.Evaluate(ctx, ".results[0].title", doc)
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	titles, err := e.EvaluateStrings(ctx, ".results[].title", doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, titles)

	v, err = e.Evaluate(ctx, ".absent", doc)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestGoJQInvalidExpression(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Evaluate(context.Background(), ".[broken", map[string]any{})
	require.Error(t, err)
}
