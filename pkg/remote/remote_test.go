package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/statesync/pkg/statetree"
)

func TestApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		current  statetree.Envelope
		diff     statetree.Envelope
		expected statetree.Envelope
	}{
		{
			name:     "empty diff keeps current",
			current:  statetree.Envelope{"settings": {"themeName": {Value: "dark"}}},
			diff:     statetree.Envelope{},
			expected: statetree.Envelope{"settings": {"themeName": {Value: "dark"}}},
		},
		{
			name:    "diff replaces and adds fields",
			current: statetree.Envelope{"settings": {"themeName": {Value: "dark"}, "a": {Value: float64(1)}}},
			diff: statetree.Envelope{
				"settings":    {"themeName": {Value: "light"}},
				"storeReview": {"isReviewed": {Value: true}},
			},
			expected: statetree.Envelope{
				"settings":    {"themeName": {Value: "light"}, "a": {Value: float64(1)}},
				"storeReview": {"isReviewed": {Value: true}},
			},
		},
		{
			name: "partial nested objects merge",
			current: statetree.Envelope{"settings": {"layout": {Value: map[string]any{
				"columns": float64(3), "dense": true,
			}}}},
			diff: statetree.Envelope{"settings": {"layout": {Value: map[string]any{
				"columns": float64(2),
			}}}},
			expected: statetree.Envelope{"settings": {"layout": {Value: map[string]any{
				"columns": float64(2), "dense": true,
			}}}},
		},
		{
			name:     "nil current",
			current:  nil,
			diff:     statetree.Envelope{"settings": {"themeName": {Value: "dark"}}},
			expected: statetree.Envelope{"settings": {"themeName": {Value: "dark"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Apply(tt.current, tt.diff))
		})
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(statetree.Envelope{"settings": {"themeName": {Value: "dark"}}})

	got, err := store.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, statetree.Envelope{"settings": {"themeName": {Value: "dark"}}}, got)

	diff := statetree.Envelope{"settings": {"timeToRequireAuthentication": {Value: float64(900)}}}
	resp, err := store.Update(ctx, diff)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"updated": 1}, resp)

	got, err = store.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, statetree.Envelope{"settings": {
		"themeName":                  {Value: "dark"},
		"timeToRequireAuthentication": {Value: float64(900)},
	}}, got)
	assert.Equal(t, []statetree.Envelope{diff}, store.Updates())
}

func TestReadyContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Equal(t, ctx, ReadyContext(ctx))

	ready, cancel := context.WithCancel(context.Background())
	cancel()
	carried := WithReadyContext(ctx, ready)
	require.NoError(t, carried.Err())
	assert.ErrorIs(t, ReadyContext(carried).Err(), context.Canceled)
}
