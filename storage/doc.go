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



// Package storage defines where crawled chunks and run history live.
//
// ChunkStore is the vector store contract. Two implementations exist:
//
//   - storage/badger: embedded BadgerDB with brute-force cosine search,
//     suitable for local runs and tests
//   - storage/qdrant: a remote Qdrant collection
//
// The badger store also implements ChunkScanner, which the reembed package
// uses to rewrite vectors after an embedding model change, and
// RunRepository, which records every crawl report.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/var/lib/taxcrawl", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	store := badger.NewChunkStore(backend, "cra_tax_info", 384)
//	ids, err := store.PutBatch(ctx, chunks)
//
// In tests, pass "" and true to OpenBackend for an in-memory database.
//
// # Payloads
//
// ChunkPayload and ChunkFromPayload convert a chunk to and from the flat
// key/value payload stored next to each vector. Timestamps are RFC3339.
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access
// from multiple goroutines.
package storage
