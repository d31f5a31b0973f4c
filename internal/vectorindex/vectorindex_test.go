package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID_Deterministic(t *testing.T) {
	a := PointID(1, false, "book a flight")
	b := PointID(1, false, "book a flight")
	assert.Equal(t, a, b)
}

func TestPointID_DistinctForDifferentInputs(t *testing.T) {
	ids := map[string]bool{
		PointID(1, false, "book a flight"): true,
		PointID(2, false, "book a flight"): true,
		PointID(1, false, "cancel order"):  true,
	}
	assert.Len(t, ids, 3)
}

func TestMemoryIndex_UpsertSearch(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Point{
		{ID: PointID(1, false, "book a flight"), RouteID: 1, Utterance: "book a flight", Vector: []float32{1, 0, 0}},
		{ID: PointID(2, false, "cancel order"), RouteID: 2, Utterance: "cancel order", Vector: []float32{0, 1, 0}},
	}))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(1), results[0].RouteID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestMemoryIndex_SearchFilter(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []Point{
		{ID: PointID(1, false, "book a flight"), RouteID: 1, Utterance: "book a flight", Negative: false, Vector: []float32{1, 0, 0}},
		{ID: PointID(1, true, "cancel order"), RouteID: 1, Utterance: "cancel order", Negative: true, Vector: []float32{1, 0, 0}},
		{ID: PointID(2, false, "book a flight"), RouteID: 2, Utterance: "book a flight", Negative: false, Vector: []float32{1, 0, 0}},
	}))

	routeOne := int64(1)
	negative := true
	results, err := idx.Search(ctx, []float32{1, 0, 0}, 10, &SearchFilter{RouteID: &routeOne, Negative: &negative})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].RouteID)
	assert.True(t, results[0].Negative)
}

func TestMemoryIndex_UpsertIsIdempotent(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	p := Point{ID: PointID(1, false, "book a flight"), RouteID: 1, Utterance: "book a flight", Vector: []float32{1, 0, 0}}

	require.NoError(t, idx.Upsert(ctx, []Point{p}))
	require.NoError(t, idx.Upsert(ctx, []Point{p}))

	points, _, err := idx.List(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestMemoryIndex_Delete(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	id := PointID(1, false, "book a flight")
	require.NoError(t, idx.Upsert(ctx, []Point{{ID: id, RouteID: 1, Utterance: "book a flight", Vector: []float32{1, 0}}}))
	require.NoError(t, idx.Delete(ctx, []string{id}))

	points, _, err := idx.List(ctx, "", 100)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestMemoryIndex_ListPagination(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		u := string(rune('a' + i))
		require.NoError(t, idx.Upsert(ctx, []Point{{ID: PointID(i, false, u), RouteID: i, Utterance: u, Vector: []float32{float32(i)}}}))
	}

	seen := map[string]bool{}
	cursor := ""
	for {
		points, next, err := idx.List(ctx, cursor, 2)
		require.NoError(t, err)
		for _, p := range points {
			seen[p.ID] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Len(t, seen, 5)
}

func TestMemoryIndex_Stats(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []Point{
		{ID: PointID(1, false, "a"), RouteID: 1, Utterance: "a", Vector: []float32{1}},
		{ID: PointID(1, false, "b"), RouteID: 1, Utterance: "b", Vector: []float32{1}},
		{ID: PointID(2, false, "c"), RouteID: 2, Utterance: "c", Vector: []float32{1}},
	}))

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats[1])
	assert.Equal(t, int64(1), stats[2])
}
