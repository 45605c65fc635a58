package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/taxcrawl/core"
	"github.com/poiesic/taxcrawl/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, vectorSize int) (*ChunkStore, *RunRepository) {
	t.Helper()
	store, runs, backend, err := NewMemoryStores("test_collection", vectorSize)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return store, runs
}

func makeChunk(title string, vector ...float32) *core.EmbeddedChunk {
	return &core.EmbeddedChunk{
		ChunkRecord: core.ChunkRecord{
			ValidatedRecord: core.ValidatedRecord{
				PageRecord: core.PageRecord{
					URL:         "https://www.canada.ca/en/" + title,
					Title:       title,
					Content:     "content of " + title,
					ExtractedAt: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
				},
				PageType: core.PageTypeGeneral,
			},
			TotalChunks: 1,
			ChunkText:   "content of " + title,
		},
		Vector:       vector,
		CombinedText: "Title: " + title,
	}
}

func TestChunkStore_PutAndCount(t *testing.T) {
	store, _ := newTestStore(t, 3)
	ctx := context.Background()

	id, err := store.Put(ctx, makeChunk("single", 1, 0, 0))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ids, err := store.PutBatch(ctx, []*core.EmbeddedChunk{
		makeChunk("a", 1, 0, 0),
		makeChunk("b", 0, 1, 0),
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	info, err := store.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, &core.CollectionInfo{
		Name:        "test_collection",
		PointsCount: 3,
		VectorSize:  3,
		Distance:    "Cosine",
	}, info)
}

func TestChunkStore_RejectsWrongDimensions(t *testing.T) {
	store, _ := newTestStore(t, 3)
	ctx := context.Background()

	_, err := store.PutBatch(ctx, []*core.EmbeddedChunk{
		makeChunk("ok", 1, 0, 0),
		makeChunk("short", 1, 0),
	})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "a rejected batch stores nothing")

	_, err = store.Search(ctx, []float32{1, 0}, 10, 0)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestChunkStore_Search(t *testing.T) {
	store, _ := newTestStore(t, 3)
	ctx := context.Background()

	ids, err := store.PutBatch(ctx, []*core.EmbeddedChunk{
		makeChunk("exact", 1, 0, 0),
		makeChunk("close", 0.9, 0.1, 0),
		makeChunk("medium", 0.7, 0.3, 0),
		makeChunk("far", 0, 0, 1),
	})
	require.NoError(t, err)

	query := []float32{1, 0, 0}

	results, err := store.Search(ctx, query, 10, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, ids[0], results[0].ID)
	assert.Equal(t, "exact", results[0].Chunk.Title)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "close", results[1].Chunk.Title)
	assert.Equal(t, "medium", results[2].Chunk.Title)
	for i := 0; i < len(results)-1; i++ {
		assert.GreaterOrEqual(t, results[i].Score, results[i+1].Score)
	}
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, float32(0.7))
		assert.Nil(t, r.Chunk.Vector, "search results do not carry vectors")
		assert.Equal(t, "Title: "+r.Chunk.Title, r.Chunk.CombinedText)
	}

	t.Run("limit", func(t *testing.T) {
		results, err := store.Search(ctx, query, 2, 0)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "exact", results[0].Chunk.Title)
	})

	t.Run("high threshold", func(t *testing.T) {
		results, err := store.Search(ctx, query, 10, 0.999)
		require.NoError(t, err)
		require.Len(t, results, 1)
	})

	t.Run("invalid limit", func(t *testing.T) {
		_, err := store.Search(ctx, query, 0, 0.5)
		assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	})
}

func TestChunkStore_CollectionsAreIsolated(t *testing.T) {
	store, _, backend, err := NewMemoryStores("first", 2)
	require.NoError(t, err)
	defer backend.Close()
	other := NewChunkStore(backend, "second", 2)
	ctx := context.Background()

	_, err = store.Put(ctx, makeChunk("one", 1, 0))
	require.NoError(t, err)
	_, err = other.Put(ctx, makeChunk("two", 1, 0))
	require.NoError(t, err)

	results, err := store.Search(ctx, []float32{1, 0}, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "one", results[0].Chunk.Title)

	require.NoError(t, store.DeleteCollection(ctx))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = other.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestChunkStore_ScanAndUpdateVectors(t *testing.T) {
	store, _ := newTestStore(t, 2)
	ctx := context.Background()

	chunks := make([]*core.EmbeddedChunk, 5)
	for i := range chunks {
		chunks[i] = makeChunk(fmt.Sprintf("chunk-%d", i), 1, 0)
	}
	_, err := store.PutBatch(ctx, chunks)
	require.NoError(t, err)

	var batchSizes []int
	updates := make(map[core.ID][]float32)
	err = store.ScanChunks(ctx, 2, func(batch []*storage.StoredChunk) error {
		batchSizes = append(batchSizes, len(batch))
		for _, sc := range batch {
			assert.Equal(t, []float32{1, 0}, sc.Chunk.Vector)
			updates[sc.ID] = []float32{0, 1}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, batchSizes)

	require.NoError(t, store.UpdateVectors(ctx, updates))

	results, err := store.Search(ctx, []float32{0, 1}, 10, 0.99)
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestChunkStore_ScanStopsOnError(t *testing.T) {
	store, _ := newTestStore(t, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Put(ctx, makeChunk(fmt.Sprintf("c%d", i), 1, 0))
		require.NoError(t, err)
	}

	boom := fmt.Errorf("boom")
	calls := 0
	err := store.ScanChunks(ctx, 1, func([]*storage.StoredChunk) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	err = store.ScanChunks(ctx, 0, func([]*storage.StoredChunk) error { return nil })
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestChunkStore_UpdateVectorsUnknownID(t *testing.T) {
	store, _ := newTestStore(t, 2)

	err := store.UpdateVectors(context.Background(), map[core.ID][]float32{
		core.NewID(): {1, 0},
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChunkStore_Closed(t *testing.T) {
	store, _, backend, err := NewMemoryStores("closed", 2)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	_, err = store.Put(context.Background(), makeChunk("x", 1, 0))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	_, err = store.Count(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
