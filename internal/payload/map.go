package payload

import (
	"fmt"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Map is a string-keyed map of Values that remembers insertion order, so
// payload fields reach the wire in the order they were recorded.
type Map struct {
	om *orderedmap.OrderedMap[string, Value]
}

func NewMap() *Map {
	return &Map{om: orderedmap.New[string, Value]()}
}

func (m *Map) entries() *orderedmap.OrderedMap[string, Value] {
	if m.om == nil {
		m.om = orderedmap.New[string, Value]()
	}
	return m.om
}

// Set stores v under key. Re-setting an existing key keeps its position.
func (m *Map) Set(key string, v Value) *Map {
	m.entries().Set(key, v)
	return m
}

// Put normalizes in and stores it under key.
func (m *Map) Put(key string, in any) error {
	v, err := Normalize(in)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	m.Set(key, v)
	return nil
}

func (m *Map) Get(key string) (Value, bool) {
	if m == nil || m.om == nil {
		return Value{}, false
	}
	return m.om.Get(key)
}

// GetText returns the scalar under key rendered as text, or "".
func (m *Map) GetText(key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	return v.Text()
}

func (m *Map) Delete(key string) {
	if m == nil || m.om == nil {
		return
	}
	m.om.Delete(key)
}

func (m *Map) Keys() []string {
	if m == nil || m.om == nil {
		return nil
	}
	keys := make([]string, 0, m.om.Len())
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (m *Map) Len() int {
	if m == nil || m.om == nil {
		return 0
	}
	return m.om.Len()
}

// MarshalJSON writes an object even for a nil or empty Map.
func (m *Map) MarshalJSON() ([]byte, error) {
	if m == nil || m.om == nil || m.om.Len() == 0 {
		return []byte("{}"), nil
	}
	return m.om.MarshalJSON()
}

// UnmarshalJSON accepts a JSON object only. Nested values keep the closed
// Value set because each entry decodes through Value.UnmarshalJSON.
func (m *Map) UnmarshalJSON(data []byte) error {
	om := orderedmap.New[string, Value]()
	if err := om.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("payload: expected object: %w", err)
	}
	m.om = om
	return nil
}

// FromMap normalizes every entry of in, in sorted key order.
func FromMap(in map[string]any) (*Map, error) {
	v, err := Normalize(in)
	if err != nil {
		return nil, err
	}
	m, _ := v.AsMap()
	return m, nil
}

func sortedKeys[V any](in map[string]V) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
