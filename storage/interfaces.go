package storage

import (
	"context"

	"github.com/poiesic/taxcrawl/core"
)

// ChunkStore persists embedded chunks and answers similarity queries.
// Implementations must be thread-safe and support concurrent access.
type ChunkStore interface {
	// Put stores a single chunk and returns its generated ID.
	Put(ctx context.Context, chunk *core.EmbeddedChunk) (core.ID, error)

	// PutBatch stores chunks and returns their generated IDs in input order.
	PutBatch(ctx context.Context, chunks []*core.EmbeddedChunk) ([]core.ID, error)

	// Search returns up to limit chunks whose cosine similarity to vector is
	// at least threshold, ordered by similarity (highest first).
	Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]*core.SearchResult, error)

	// Info describes the underlying collection.
	Info(ctx context.Context) (*core.CollectionInfo, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (uint64, error)

	// DeleteCollection removes every stored chunk and the collection itself.
	DeleteCollection(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// StoredChunk is a chunk read back from storage together with its ID.
type StoredChunk struct {
	ID    core.ID
	Chunk *core.EmbeddedChunk
}

// ChunkScanner walks stored chunks and rewrites their vectors.
type ChunkScanner interface {
	// ScanChunks calls fn with consecutive batches of at most batchSize
	// chunks. Iteration stops on the first error from fn.
	ScanChunks(ctx context.Context, batchSize int, fn func([]*StoredChunk) error) error

	// UpdateVectors replaces the vectors of existing chunks.
	// Returns ErrNotFound if any ID doesn't exist.
	UpdateVectors(ctx context.Context, vectors map[core.ID][]float32) error
}

// RunRepository keeps the history of crawl runs.
type RunRepository interface {
	// SaveRun persists a run report. Reports are keyed by ID, so saving the
	// same report twice overwrites it.
	SaveRun(ctx context.Context, report *core.RunReport) error

	// ListRuns returns up to limit reports, most recently started first.
	ListRuns(ctx context.Context, limit int) ([]*core.RunReport, error)
}
