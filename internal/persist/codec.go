package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode serialises a state object as JSON. Keys are sorted and HTML
// characters are left unescaped so identical states always produce
// identical bytes.
func Encode(state map[string]any) ([]byte, error) {
	if state == nil {
		state = map[string]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(state); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a persisted state object. Empty input and JSON null decode
// to an empty object; anything that is not a JSON object is an error.
func Decode(data []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return out, fmt.Errorf("decode state: %w", err)
	}
	switch obj := v.(type) {
	case nil:
		return out, nil
	case map[string]any:
		return obj, nil
	default:
		return out, fmt.Errorf("decode state: expected object, got %T", v)
	}
}

// Filter selects which keys of a state are persisted.
//
// A nil Include keeps every key; a non-nil Include keeps only the listed
// keys. Exclude removes the listed keys. Include and Exclude are mutually
// exclusive.
type Filter struct {
	Include []string
	Exclude []string
}

// Conflicting reports whether both Include and Exclude are set.
func (f Filter) Conflicting() bool {
	return f.Include != nil && f.Exclude != nil
}

// Apply returns a new map with the filter applied. The input is not modified.
func (f Filter) Apply(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	switch {
	case f.Include != nil:
		for _, k := range f.Include {
			if v, ok := state[k]; ok {
				out[k] = v
			}
		}
	default:
		for k, v := range state {
			out[k] = v
		}
		for _, k := range f.Exclude {
			delete(out, k)
		}
	}
	return out
}
