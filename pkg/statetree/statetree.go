// Package statetree contains the value types exchanged by the sync engine: state
// slices, collections of slices keyed by slice name, and the storage envelope in
// which every leaf is wrapped as {"value": ...}.
package statetree

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
)

// Slice is the plain value of one named slice of application state (field key to value).
type Slice map[string]any

// Collection maps slice keys to slice values.
type Collection map[string]Slice

// Leaf is a single wrapped field value in the storage envelope.
type Leaf struct {
	Value any `json:"value"`
}

// Envelope is the storage wire format: slice key to field key to wrapped value.
type Envelope map[string]map[string]Leaf

// Wrap converts a plain collection into its envelope form.
// Every field becomes exactly one Leaf.
func Wrap(c Collection) Envelope {
	env := make(Envelope, len(c))
	for key, slice := range c {
		fields := make(map[string]Leaf, len(slice))
		for field, value := range slice {
			fields[field] = Leaf{Value: cloneValue(value)}
		}
		env[key] = fields
	}
	return env
}

// Unwrap strips exactly one wrapping layer from every leaf of the envelope.
func Unwrap(env Envelope) Collection {
	c := make(Collection, len(env))
	for key, fields := range env {
		slice := make(Slice, len(fields))
		for field, leaf := range fields {
			slice[field] = cloneValue(leaf.Value)
		}
		c[key] = slice
	}
	return c
}

// IsEmpty reports whether the envelope carries no slices at all.
func (e Envelope) IsEmpty() bool {
	return len(e) == 0
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	for key, slice := range c {
		out[key] = slice.Clone()
	}
	return out
}

// Clone returns a deep copy of the slice.
func (s Slice) Clone() Slice {
	if s == nil {
		return nil
	}
	out := make(Slice, len(s))
	for field, value := range s {
		out[field] = cloneValue(value)
	}
	return out
}

// Keys returns the slice keys of the collection in no particular order.
func (c Collection) Keys() []string {
	return slices.Collect(maps.Keys(c))
}

// Normalize returns the value as it would look after a JSON round trip, so that
// values produced by Go code (int, structs, typed maps) compare equal to values
// decoded from storage.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// NormalizeSlice normalizes every field of a slice. A nil slice normalizes to an empty one.
func NormalizeSlice(s Slice) (Slice, error) {
	out := make(Slice, len(s))
	for field, value := range s {
		n, err := Normalize(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		out[field] = n
	}
	return out, nil
}

// Equal reports deep equality of two values.
// Callers compare normalized values; Equal itself does no conversion.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case Slice:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}
