package engine

import (
	"encoding/json"
	"sync"
)

// SharedState is the mutable key/value bag passed through every step of
// one run. Steps read and write it freely; last write wins and there is
// no rollback. All values must survive a JSON round trip, since the state
// is embedded in interrupt snapshots.
type SharedState struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewSharedState creates a state seeded with the given map. The seed is
// copied; nil is fine.
func NewSharedState(seed map[string]any) *SharedState {
	data := make(map[string]any, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &SharedState{data: data}
}

// Get returns the value for key and whether it is present.
func (s *SharedState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// GetDefault returns the value for key, or def if absent.
func (s *SharedState) GetDefault(key string, def any) any {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

// Set stores value under key, replacing any previous value.
func (s *SharedState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// GetString returns the string under key, or "" if absent or not a string.
func (s *SharedState) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// GetStringSlice returns the string list under key. Both []string and
// []any (the shape JSON decoding produces) are accepted; non-string
// elements are dropped.
func (s *SharedState) GetStringSlice(key string) []string {
	v, ok := s.Get(key)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// GetInt returns the integer under key, accepting the float64 shape JSON
// decoding produces. Returns 0 if absent or non-numeric.
func (s *SharedState) GetInt(key string) int {
	v, _ := s.Get(key)
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Data returns a shallow copy of the underlying map.
func (s *SharedState) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// MarshalJSON serializes the state for snapshot persistence.
func (s *SharedState) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.data)
}

// UnmarshalJSON reconstructs the state from a snapshot.
func (s *SharedState) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = m
	return nil
}
