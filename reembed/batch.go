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



package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/taxcrawl/ai"
	"github.com/poiesic/taxcrawl/core"
	"github.com/poiesic/taxcrawl/retry"
	"github.com/poiesic/taxcrawl/storage"
)

// BatchProcessor embeds batches of stored chunks and writes the new vectors.
type BatchProcessor struct {
	store          storage.ChunkScanner
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for each embedding call
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(store storage.ChunkScanner, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		store:          store,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds the combined text of each chunk and updates its vector.
// Vectors are normalized so cosine and dot-product rankings agree.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*storage.StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, stored := range chunks {
		text := stored.Chunk.CombinedText
		if text == "" {
			text = core.CombinedText(&stored.Chunk.ChunkRecord)
		}
		texts[i] = core.TruncateForEmbedding(text)
	}

	var embeddings [][]float32
	err := retry.WithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}

	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(chunks), len(embeddings))
	}

	vectors := make(map[core.ID][]float32, len(chunks))
	for i, stored := range chunks {
		vectors[stored.ID] = NormalizeVector(embeddings[i])
	}

	if err := bp.store.UpdateVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to update vectors: %w", err)
	}
	return nil
}
