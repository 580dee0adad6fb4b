package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Entry is a single metadata key/value pair.
type Entry struct {
	Key   string
	Value any
}

// Metadata is an insertion-ordered key/value map. Lookup is by key, rendering
// follows insertion order. The zero value is ready to use.
type Metadata struct {
	entries []Entry
}

// NewMetadata builds metadata from entries in the given order. Later entries
// with a repeated key overwrite earlier ones in place.
func NewMetadata(entries ...Entry) *Metadata {
	m := &Metadata{}
	for _, e := range entries {
		m.Set(e.Key, e.Value)
	}
	return m
}

// MetadataFromMap builds metadata from a Go map. Map iteration order is random,
// so keys are inserted in sorted order to keep rendering deterministic.
func MetadataFromMap(kv map[string]any) *Metadata {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m := &Metadata{entries: make([]Entry, 0, len(keys))}
	for _, k := range keys {
		m.entries = append(m.entries, Entry{Key: k, Value: kv[k]})
	}
	return m
}

// Get returns the value stored under key.
func (m *Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, e := range m.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (m *Metadata) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key, keeping the original position of an existing key.
func (m *Metadata) Set(key string, value any) {
	for i := range m.entries {
		if m.entries[i].Key == key {
			m.entries[i].Value = value
			return
		}
	}
	m.entries = append(m.entries, Entry{Key: key, Value: value})
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns keys in insertion order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the entries in insertion order.
func (m *Metadata) Entries() []Entry {
	if m == nil {
		return nil
	}
	return slices.Clone(m.entries)
}

// Strings returns the value under key as a string list, if it is one.
func (m *Metadata) Strings(key string) ([]string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	list, ok := v.([]string)
	return list, ok
}

// Clone deep copies the metadata. String slices are copied so later stages
// cannot mutate a sibling's list through a shared backing array.
func (m *Metadata) Clone() *Metadata {
	out := &Metadata{}
	if m == nil {
		return out
	}
	out.entries = make([]Entry, len(m.entries))
	for i, e := range m.entries {
		if list, ok := e.Value.([]string); ok {
			e.Value = slices.Clone(list)
		}
		out.entries[i] = e
	}
	return out
}

// FormatValue renders a metadata value for templates.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// MarshalJSON encodes the metadata as a JSON object in insertion order.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if m != nil {
		for i, e := range m.entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(e.Key)
			if err != nil {
				return nil, err
			}
			v, err := json.Marshal(e.Value)
			if err != nil {
				return nil, fmt.Errorf("metadata %q: %w", e.Key, err)
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the key order of the input.
// Arrays of strings decode to []string so they render like derived lists.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		m.entries = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata: expected object, got %v", tok)
	}
	m.entries = m.entries[:0]
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("metadata: expected key, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		value, err := decodeScalar(raw)
		if err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		m.Set(key, value)
	}
	_, err = dec.Token()
	return err
}

func decodeScalar(raw json.RawMessage) (any, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	case map[string]any, []any:
		return nil, fmt.Errorf("metadata values must be scalars or string lists")
	}
	return v, nil
}
