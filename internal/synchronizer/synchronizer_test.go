package synchronizer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/intenthub/internal/embedder"
	"github.com/ajitpratap0/intenthub/internal/models"
	"github.com/ajitpratap0/intenthub/internal/routestore"
	"github.com/ajitpratap0/intenthub/internal/vectorindex"
)

func newTestSynchronizer(t *testing.T) (*Synchronizer, *routestore.RouteStore, *vectorindex.MemoryIndex) {
	t.Helper()
	store, err := routestore.New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)
	idx := vectorindex.NewMemoryIndex()
	emb := embedder.NewHashEmbedder(32)
	return New(store, idx, emb, nil), store, idx
}

func TestSynchronizer_IncrementalUpsertsNewRoute(t *testing.T) {
	sync, store, idx := newTestSynchronizer(t)
	ctx := context.Background()

	_, err := store.Create(models.Route{
		Name:           "flights",
		Utterances:     []string{"book a flight", "reserve a flight"},
		ScoreThreshold: 0.7,
	})
	require.NoError(t, err)

	report, err := sync.Run(ctx, models.SyncModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.RoutesCount)
	assert.Equal(t, int64(2), report.TotalPoints)

	points, _, err := idx.List(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestSynchronizer_IsIdempotent(t *testing.T) {
	sync, store, idx := newTestSynchronizer(t)
	ctx := context.Background()

	_, err := store.Create(models.Route{
		Name:           "flights",
		Utterances:     []string{"book a flight"},
		ScoreThreshold: 0.7,
	})
	require.NoError(t, err)

	_, err = sync.Run(ctx, models.SyncModeIncremental)
	require.NoError(t, err)
	_, err = sync.Run(ctx, models.SyncModeIncremental)
	require.NoError(t, err)

	points, _, err := idx.List(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestSynchronizer_DeletesRemovedUtterance(t *testing.T) {
	sync, store, idx := newTestSynchronizer(t)
	ctx := context.Background()

	r, err := store.Create(models.Route{
		Name:           "flights",
		Utterances:     []string{"book a flight", "reserve a flight"},
		ScoreThreshold: 0.7,
	})
	require.NoError(t, err)
	_, err = sync.Run(ctx, models.SyncModeIncremental)
	require.NoError(t, err)

	_, err = store.Update(r.ID, models.Route{
		Name:           "flights",
		Utterances:     []string{"book a flight"},
		ScoreThreshold: 0.7,
	})
	require.NoError(t, err)

	report, err := sync.Run(ctx, models.SyncModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.TotalPoints)

	points, _, err := idx.List(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Equal(t, "book a flight", points[0].Utterance)
}

func TestSynchronizer_ForcedFullRepairsDrift(t *testing.T) {
	sync, store, idx := newTestSynchronizer(t)
	ctx := context.Background()

	_, err := store.Create(models.Route{
		Name:           "flights",
		Utterances:     []string{"book a flight"},
		ScoreThreshold: 0.7,
	})
	require.NoError(t, err)
	_, err = sync.Run(ctx, models.SyncModeIncremental)
	require.NoError(t, err)

	// Simulate out-of-band drift: a stray point the synchronizer never wrote.
	require.NoError(t, idx.Upsert(ctx, []vectorindex.Point{
		{ID: "stray", RouteID: 999, Utterance: "not a real route", Vector: []float32{1, 2, 3}},
	}))

	report, err := sync.Run(ctx, models.SyncModeForcedFull)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.TotalPoints)

	points, _, err := idx.List(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Equal(t, "book a flight", points[0].Utterance)
}

func TestSynchronizer_BatchSizeSplitsLargeUpsertIntoChunks(t *testing.T) {
	store, err := routestore.New(filepath.Join(t.TempDir(), "journal.json"), nil)
	require.NoError(t, err)
	idx := vectorindex.NewMemoryIndex()
	emb := embedder.NewHashEmbedder(32)
	sync := New(store, idx, emb, nil, WithBatchSize(3))
	ctx := context.Background()

	utterances := make([]string, 10)
	for i := range utterances {
		utterances[i] = "utterance " + string(rune('a'+i))
	}
	_, err = store.Create(models.Route{Name: "big", Utterances: utterances, ScoreThreshold: 0.7})
	require.NoError(t, err)

	report, err := sync.Run(ctx, models.SyncModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.TotalPoints)

	points, _, err := idx.List(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, points, 10, "every point lands regardless of batch chunking")
}

func TestSynchronizer_TotalPointsExcludesNegativeSamples(t *testing.T) {
	sync, store, idx := newTestSynchronizer(t)
	ctx := context.Background()

	_, err := store.Create(models.Route{
		Name:              "billing",
		Utterances:        []string{"how much do I owe", "what is my balance"},
		NegativeSamples:   []string{"cancel my account"},
		ScoreThreshold:    0.7,
		NegativeThreshold: 0.8,
	})
	require.NoError(t, err)

	report, err := sync.Run(ctx, models.SyncModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.TotalPoints, "total points counts utterances only, not negative samples")

	points, _, err := idx.List(ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, points, 3, "negative samples are still indexed for veto lookups")
}

func TestSynchronizer_RejectsOverlappingRuns(t *testing.T) {
	sync, _, _ := newTestSynchronizer(t)
	sync.runMu.Lock()
	defer sync.runMu.Unlock()

	_, err := sync.Run(context.Background(), models.SyncModeIncremental)
	require.Error(t, err)
}
