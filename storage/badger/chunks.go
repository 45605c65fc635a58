// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.



package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/taxcrawl/core"
	"github.com/poiesic/taxcrawl/storage"
)

// Distance is the similarity metric reported by Info.
const Distance = "Cosine"

// ChunkStore implements storage.ChunkStore and storage.ChunkScanner for
// BadgerDB. Search is a full scan of the collection.
type ChunkStore struct {
	backend    *Backend
	collection string
	vectorSize int
	prefix     []byte
	logger     *slog.Logger
}

var (
	_ storage.ChunkStore   = (*ChunkStore)(nil)
	_ storage.ChunkScanner = (*ChunkStore)(nil)
)

// NewChunkStore creates a store for one named collection inside backend.
// vectorSize is enforced on every write.
func NewChunkStore(backend *Backend, collection string, vectorSize int) *ChunkStore {
	return &ChunkStore{
		backend:    backend,
		collection: collection,
		vectorSize: vectorSize,
		prefix:     makeChunkCollectionPrefix(collection),
		logger:     backend.logger.With("collection", collection),
	}
}

// Put stores a single chunk and returns its generated ID.
func (s *ChunkStore) Put(ctx context.Context, chunk *core.EmbeddedChunk) (core.ID, error) {
	ids, err := s.PutBatch(ctx, []*core.EmbeddedChunk{chunk})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// PutBatch stores chunks in one transaction and returns their generated IDs
// in input order.
func (s *ChunkStore) PutBatch(ctx context.Context, chunks []*core.EmbeddedChunk) ([]core.ID, error) {
	if s.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	for i, chunk := range chunks {
		if len(chunk.Vector) != s.vectorSize {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, collection expects %d",
				storage.ErrDimensionMismatch, i, len(chunk.Vector), s.vectorSize)
		}
	}

	ids := make([]core.ID, len(chunks))
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		for i, chunk := range chunks {
			ids[i] = core.NewID()
			value, err := storage.MarshalChunk(ids[i], chunk)
			if err != nil {
				return err
			}
			if err := tx.Set(makeChunkKey(s.collection, ids[i]), value); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("stored chunks", "count", len(chunks))
	return ids, nil
}

// Search scans every chunk in the collection and returns those at or above
// threshold, most similar first.
func (s *ChunkStore) Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]*core.SearchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}
	if len(vector) != s.vectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			storage.ErrDimensionMismatch, len(vector), s.vectorSize)
	}

	var results []*core.SearchResult
	err := s.scan(ctx, func(id core.ID, chunk *core.EmbeddedChunk) error {
		if len(chunk.Vector) == 0 {
			return nil
		}
		score := cosineSimilarity(vector, chunk.Vector)
		if score >= threshold {
			chunk.Vector = nil
			results = append(results, &core.SearchResult{ID: id, Score: score, Chunk: chunk})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b *core.SearchResult) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Info describes the collection.
func (s *ChunkStore) Info(ctx context.Context) (*core.CollectionInfo, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &core.CollectionInfo{
		Name:        s.collection,
		PointsCount: count,
		VectorSize:  s.vectorSize,
		Distance:    Distance,
	}, nil
}

// Count returns the number of chunks in the collection without reading values.
func (s *ChunkStore) Count(ctx context.Context) (uint64, error) {
	if s.backend.IsClosed() {
		return 0, storage.ErrStorageClosed
	}
	var count uint64
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// DeleteCollection removes every chunk in the collection.
func (s *ChunkStore) DeleteCollection(ctx context.Context) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	if err := s.backend.DropPrefix(s.prefix); err != nil {
		return err
	}
	s.logger.Info("deleted collection")
	return nil
}

// Close is a no-op; the backend is owned and closed by the caller.
func (s *ChunkStore) Close() error {
	return nil
}

// ScanChunks calls fn with consecutive batches of chunks in key order.
func (s *ChunkStore) ScanChunks(ctx context.Context, batchSize int, fn func([]*storage.StoredChunk) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", storage.ErrInvalidQuery, batchSize)
	}

	// Collect first so fn may write to the store without holding a read
	// transaction open.
	var all []*storage.StoredChunk
	err := s.scan(ctx, func(id core.ID, chunk *core.EmbeddedChunk) error {
		all = append(all, &storage.StoredChunk{ID: id, Chunk: chunk})
		return nil
	})
	if err != nil {
		return err
	}

	for batch := range slices.Chunk(all, batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

// UpdateVectors replaces the vectors of existing chunks in one transaction.
func (s *ChunkStore) UpdateVectors(ctx context.Context, vectors map[core.ID][]float32) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	for id, vector := range vectors {
		if len(vector) != s.vectorSize {
			return fmt.Errorf("%w: chunk %s has %d dimensions, collection expects %d",
				storage.ErrDimensionMismatch, id, len(vector), s.vectorSize)
		}
	}

	return s.backend.WithTx(func(tx *badger.Txn) error {
		for id, vector := range vectors {
			key := makeChunkKey(s.collection, id)
			chunk, err := readChunk(tx, key)
			if err != nil {
				return err
			}
			chunk.Vector = vector
			value, err := storage.MarshalChunk(id, chunk)
			if err != nil {
				return err
			}
			if err := tx.Set(key, value); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// scan visits every chunk in the collection, checking ctx between items.
func (s *ChunkStore) scan(ctx context.Context, visit func(core.ID, *core.EmbeddedChunk) error) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var (
				id    core.ID
				chunk *core.EmbeddedChunk
			)
			err := iter.Item().Value(func(val []byte) error {
				var err error
				id, chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := visit(id, chunk); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

func readChunk(tx *badger.Txn, key []byte) (*core.EmbeddedChunk, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var chunk *core.EmbeddedChunk
	err = item.Value(func(val []byte) error {
		var err error
		_, chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}
