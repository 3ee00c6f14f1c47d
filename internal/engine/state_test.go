package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedStateSeedIsCopied(t *testing.T) {
	seed := map[string]any{"topic": "go"}
	s := NewSharedState(seed)

	seed["topic"] = "mutated"

	assert.Equal(t, "go", s.GetString("topic"))
}

func TestSharedStateGetSet(t *testing.T) {
	s := NewSharedState(nil)

	_, ok := s.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, "fallback", s.GetDefault("missing", "fallback"))

	s.Set("topic", "databases")
	v, ok := s.Get("topic")
	require.True(t, ok)
	assert.Equal(t, "databases", v)
	assert.Equal(t, "databases", s.GetDefault("topic", "fallback"))
}

func TestSharedStateTypedAccessors(t *testing.T) {
	s := NewSharedState(map[string]any{
		"name":    "audit",
		"count":   3,
		"ratio":   2.0,
		"strs":    []string{"a", "b"},
		"anys":    []any{"c", "d"},
		"mixed":   []any{"e", 1},
		"not_str": 42,
	})

	assert.Equal(t, "audit", s.GetString("name"))
	assert.Equal(t, "", s.GetString("not_str"))
	assert.Equal(t, "", s.GetString("missing"))

	assert.Equal(t, 3, s.GetInt("count"))
	assert.Equal(t, 2, s.GetInt("ratio"))
	assert.Equal(t, 0, s.GetInt("name"))

	assert.Equal(t, []string{"a", "b"}, s.GetStringSlice("strs"))
	assert.Equal(t, []string{"c", "d"}, s.GetStringSlice("anys"))
	assert.Equal(t, []string{"e"}, s.GetStringSlice("mixed"))
	assert.Nil(t, s.GetStringSlice("missing"))
}

func TestSharedStateDataIsSnapshot(t *testing.T) {
	s := NewSharedState(map[string]any{"k": "v"})

	data := s.Data()
	data["k"] = "changed"

	assert.Equal(t, "v", s.GetString("k"))
}

// JSON round-trip must preserve strings, numbers, booleans, nulls and
// nested structures, since snapshots carry the whole state this way.
func TestSharedStateJSONRoundTrip(t *testing.T) {
	s := NewSharedState(map[string]any{
		"str":  "hello",
		"num":  42.5,
		"flag": true,
		"nil":  nil,
		"list": []any{"a", 1.0, false},
		"nested": map[string]any{
			"inner": []any{map[string]any{"deep": "value"}},
		},
	})

	data, err := json.Marshal(s)
	require.NoError(t, err)

	restored := NewSharedState(nil)
	require.NoError(t, json.Unmarshal(data, restored))

	assert.Equal(t, s.Data(), restored.Data())
	assert.Equal(t, "hello", restored.GetString("str"))
	assert.Equal(t, 42, restored.GetInt("num"))
	assert.Equal(t, []string{"a"}, restored.GetStringSlice("list"))
}
