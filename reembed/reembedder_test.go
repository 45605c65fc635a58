package reembed

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/taxcrawl/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		BatchSize:      3,
		ReportInterval: 3,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}
}

func TestReembedder_Run(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	ids := seedChunks(t, store, 10)

	embedder := mock.NewMockEmbedderWithDimensions(testDims)
	embedder.EmbedTextsFunc = unnormalized

	var buf bytes.Buffer
	processed, err := NewReembedder(store, embedder, testConfig(), &buf).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, processed)

	// 10 chunks in batches of 3
	assert.Equal(t, 4, embedder.CallCount())
	assert.Len(t, embedder.Texts(), 10)

	stored := scanAll(t, store)
	require.Len(t, stored, len(ids))
	for _, s := range stored {
		assert.InDeltaSlice(t, []float32{1.0 / 3, 2.0 / 3, 2.0 / 3, 0}, s.Chunk.Vector, 1e-6)
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), count, "reembedding does not add chunks")

	output := buf.String()
	assert.Contains(t, output, "Starting reembedding of 10 chunks (batch size: 3)")
	assert.Contains(t, output, "10/10")
	assert.Contains(t, output, "Reembedding complete. Processed 10 chunks")
}

func TestReembedder_EmptyCollection(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimensions(testDims)

	var buf bytes.Buffer
	processed, err := NewReembedder(setupTestStore(t), embedder, testConfig(), &buf).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Contains(t, buf.String(), "No chunks found")
	assert.Equal(t, 0, embedder.CallCount())
}

func TestReembedder_StopsOnBatchFailure(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	seedChunks(t, store, 7)

	calls := 0
	embedder := mock.NewMockEmbedderWithDimensions(testDims)
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("quota exceeded")
		}
		return unnormalized(ctx, texts)
	}

	var buf bytes.Buffer
	processed, err := NewReembedder(store, embedder, testConfig(), &buf).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to process batch")
	assert.Equal(t, 3, processed, "only the first batch completed")
}

func TestReembedder_Canceled(t *testing.T) {
	store := setupTestStore(t)
	seedChunks(t, store, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err := NewReembedder(store, mock.NewMockEmbedderWithDimensions(testDims), testConfig(), &buf).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewReembedder_Defaults(t *testing.T) {
	r := NewReembedder(setupTestStore(t), mock.NewMockEmbedderWithDimensions(testDims), nil, &bytes.Buffer{})
	assert.Equal(t, DefaultConfig(), r.config)

	r = NewReembedder(setupTestStore(t), mock.NewMockEmbedderWithDimensions(testDims), &Config{MaxRetries: 1}, &bytes.Buffer{})
	assert.Equal(t, 100, r.config.BatchSize)
	assert.Equal(t, 100, r.config.ReportInterval)
}
