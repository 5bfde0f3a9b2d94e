package statetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap(t *testing.T) {
	t.Parallel()

	c := Collection{
		"settings": Slice{
			"themeName": "dark",
			"tags":      []any{"a", "b"},
		},
		"storeReview": Slice{"isReviewed": false},
	}

	env := Wrap(c)
	require.Equal(t, Leaf{Value: "dark"}, env["settings"]["themeName"])
	require.Equal(t, Leaf{Value: []any{"a", "b"}}, env["settings"]["tags"])
	require.Equal(t, Leaf{Value: false}, env["storeReview"]["isReviewed"])

	require.Equal(t, c, Unwrap(env))
}

func TestWrap_DoesNotAlias(t *testing.T) {
	t.Parallel()

	tags := []any{"a"}
	c := Collection{"settings": Slice{"tags": tags}}
	env := Wrap(c)
	tags[0] = "changed"

	assert.Equal(t, []any{"a"}, env["settings"]["tags"].Value)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		newer    Envelope
		base     Envelope
		expected Envelope
	}{
		{
			name:     "identical envelopes produce empty diff",
			newer:    Envelope{"settings": {"themeName": {Value: "dark"}}},
			base:     Envelope{"settings": {"themeName": {Value: "dark"}}},
			expected: Envelope{},
		},
		{
			name:     "nil base returns everything",
			newer:    Envelope{"settings": {"themeName": {Value: "dark"}}},
			base:     nil,
			expected: Envelope{"settings": {"themeName": {Value: "dark"}}},
		},
		{
			name: "only changed fields are kept",
			newer: Envelope{"settings": {
				"themeName":                  {Value: "dark"},
				"timeToRequireAuthentication": {Value: float64(900)},
			}},
			base: Envelope{"settings": {
				"themeName":                  {Value: "dark"},
				"timeToRequireAuthentication": {Value: float64(600)},
			}},
			expected: Envelope{"settings": {
				"timeToRequireAuthentication": {Value: float64(900)},
			}},
		},
		{
			name: "new field and new slice",
			newer: Envelope{
				"settings":    {"themeName": {Value: "dark"}, "hasNotAgreedTo247Trading": {Value: true}},
				"storeReview": {"isReviewed": {Value: false}},
			},
			base: Envelope{"settings": {"themeName": {Value: "dark"}}},
			expected: Envelope{
				"settings":    {"hasNotAgreedTo247Trading": {Value: true}},
				"storeReview": {"isReviewed": {Value: false}},
			},
		},
		{
			name:     "fields only in base are ignored",
			newer:    Envelope{"settings": {"themeName": {Value: "dark"}}},
			base:     Envelope{"settings": {"themeName": {Value: "dark"}, "old": {Value: 1}}},
			expected: Envelope{},
		},
		{
			name: "nested objects recurse",
			newer: Envelope{"settings": {"layout": {Value: map[string]any{
				"columns": float64(2),
				"dense":   true,
			}}}},
			base: Envelope{"settings": {"layout": {Value: map[string]any{
				"columns": float64(3),
				"dense":   true,
			}}}},
			expected: Envelope{"settings": {"layout": {Value: map[string]any{
				"columns": float64(2),
			}}}},
		},
		{
			name:     "arrays are replaced whole",
			newer:    Envelope{"settings": {"tags": {Value: []any{"a", "c"}}}},
			base:     Envelope{"settings": {"tags": {Value: []any{"a", "b"}}}},
			expected: Envelope{"settings": {"tags": {Value: []any{"a", "c"}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Diff(tt.newer, tt.base))
		})
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		layers   []Slice
		expected Slice
	}{
		{
			name:     "no layers",
			layers:   nil,
			expected: Slice{},
		},
		{
			name: "stronger layer wins",
			layers: []Slice{
				{"themeName": "light"},
				{"themeName": "dark"},
			},
			expected: Slice{"themeName": "dark"},
		},
		{
			name: "absent fields never erase weaker values",
			layers: []Slice{
				{"timeToRequireAuthentication": float64(600), "hasNotAgreedTo247Trading": true},
				{"themeName": "dark", "timeToRequireAuthentication": float64(900)},
				{},
			},
			expected: Slice{
				"themeName":                  "dark",
				"timeToRequireAuthentication": float64(900),
				"hasNotAgreedTo247Trading":   true,
			},
		},
		{
			name: "nil values are treated as absent",
			layers: []Slice{
				{"themeName": "dark"},
				{"themeName": nil},
			},
			expected: Slice{"themeName": "dark"},
		},
		{
			name: "objects merge member by member",
			layers: []Slice{
				{"layout": map[string]any{"columns": float64(3), "dense": true}},
				{"layout": map[string]any{"columns": float64(2)}},
			},
			expected: Slice{"layout": map[string]any{"columns": float64(2), "dense": true}},
		},
		{
			name:     "nil layers are skipped",
			layers:   []Slice{nil, {"a": "b"}, nil},
			expected: Slice{"a": "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Merge(tt.layers...))
		})
	}
}

func TestMerge_DoesNotAlias(t *testing.T) {
	t.Parallel()

	remote := Slice{"layout": map[string]any{"columns": float64(2)}}
	merged := Merge(Slice{}, remote)
	merged["layout"].(map[string]any)["columns"] = float64(5)

	assert.Equal(t, float64(2), remote["layout"].(map[string]any)["columns"])
}

func TestNormalizeSlice(t *testing.T) {
	t.Parallel()

	type layout struct {
		Columns int `json:"columns"`
	}

	got, err := NormalizeSlice(Slice{
		"count":  900,
		"layout": layout{Columns: 2},
		"tags":   []string{"a"},
	})
	require.NoError(t, err)
	assert.Equal(t, Slice{
		"count":  float64(900),
		"layout": map[string]any{"columns": float64(2)},
		"tags":   []any{"a"},
	}, got)

	_, err = NormalizeSlice(Slice{"bad": make(chan int)})
	require.Error(t, err)
}

func TestCollectionClone(t *testing.T) {
	t.Parallel()

	var nilCollection Collection
	assert.Nil(t, nilCollection.Clone())

	c := Collection{"settings": Slice{"tags": []any{"a"}}}
	clone := c.Clone()
	clone["settings"]["tags"].([]any)[0] = "b"
	assert.Equal(t, []any{"a"}, c["settings"]["tags"])
	assert.ElementsMatch(t, []string{"settings"}, c.Keys())
}
