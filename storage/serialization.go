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



package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/poiesic/taxcrawl/core"
)

// chunkEnvelope is the persisted form of a chunk. The vector is kept beside
// the chunk because EmbeddedChunk does not serialize it.
type chunkEnvelope struct {
	ID     core.ID             `json:"id"`
	Chunk  *core.EmbeddedChunk `json:"chunk"`
	Vector []float32           `json:"vector"`
}

// MarshalChunk serializes a chunk and its vector to bytes.
func MarshalChunk(id core.ID, chunk *core.EmbeddedChunk) ([]byte, error) {
	data, err := json.Marshal(chunkEnvelope{ID: id, Chunk: chunk, Vector: chunk.Vector})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalChunk deserializes a chunk, restoring its vector.
func UnmarshalChunk(data []byte) (core.ID, *core.EmbeddedChunk, error) {
	var env chunkEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if env.Chunk == nil {
		return "", nil, fmt.Errorf("%w: missing chunk", ErrSerializationFailed)
	}
	env.Chunk.Vector = env.Vector
	return env.ID, env.Chunk, nil
}

// MarshalRun serializes a run report to bytes.
func MarshalRun(report *core.RunReport) ([]byte, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalRun deserializes a run report from bytes.
func UnmarshalRun(data []byte) (*core.RunReport, error) {
	var report core.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &report, nil
}

// Payload keys shared by every vector store.
const (
	PayloadURL          = "url"
	PayloadTitle        = "title"
	PayloadContent      = "content"
	PayloadExtractedAt  = "extracted_at"
	PayloadPageType     = "page_type"
	PayloadTaxYear      = "tax_year"
	PayloadFormNumber   = "form_number"
	PayloadChunkIndex   = "chunk_index"
	PayloadTotalChunks  = "total_chunks"
	PayloadChunkText    = "chunk_text"
	PayloadIsChunked    = "is_chunked"
	PayloadCombinedText = "combined_text"
)

// ChunkPayload flattens every chunk field except the vector into a payload
// map. ExtractedAt is encoded as RFC3339.
func ChunkPayload(chunk *core.EmbeddedChunk) map[string]any {
	return map[string]any{
		PayloadURL:          chunk.URL,
		PayloadTitle:        chunk.Title,
		PayloadContent:      chunk.Content,
		PayloadExtractedAt:  chunk.ExtractedAt.UTC().Format(time.RFC3339),
		PayloadPageType:     string(chunk.PageType),
		PayloadTaxYear:      chunk.TaxYear,
		PayloadFormNumber:   chunk.FormNumber,
		PayloadChunkIndex:   int64(chunk.ChunkIndex),
		PayloadTotalChunks:  int64(chunk.TotalChunks),
		PayloadChunkText:    chunk.ChunkText,
		PayloadIsChunked:    chunk.IsChunked,
		PayloadCombinedText: chunk.CombinedText,
	}
}

// ChunkFromPayload rebuilds a chunk from a payload map produced by
// ChunkPayload. Missing keys leave zero values; a malformed timestamp is an
// error.
func ChunkFromPayload(payload map[string]any) (*core.EmbeddedChunk, error) {
	chunk := &core.EmbeddedChunk{}
	chunk.URL = payloadString(payload, PayloadURL)
	chunk.Title = payloadString(payload, PayloadTitle)
	chunk.Content = payloadString(payload, PayloadContent)
	chunk.PageType = core.PageType(payloadString(payload, PayloadPageType))
	chunk.TaxYear = payloadString(payload, PayloadTaxYear)
	chunk.FormNumber = payloadString(payload, PayloadFormNumber)
	chunk.ChunkIndex = payloadInt(payload, PayloadChunkIndex)
	chunk.TotalChunks = payloadInt(payload, PayloadTotalChunks)
	chunk.ChunkText = payloadString(payload, PayloadChunkText)
	chunk.CombinedText = payloadString(payload, PayloadCombinedText)
	if b, ok := payload[PayloadIsChunked].(bool); ok {
		chunk.IsChunked = b
	}

	if raw := payloadString(payload, PayloadExtractedAt); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSerializationFailed, PayloadExtractedAt, err)
		}
		chunk.ExtractedAt = ts
	}
	return chunk, nil
}

func payloadString(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
