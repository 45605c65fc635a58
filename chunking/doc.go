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


// Package chunking splits validated page content into overlapping segments
// sized for embedding.
//
// Split prefers to cut at a sentence boundary found in the last 200
// characters of each segment and otherwise cuts at the configured size.
// Consecutive segments share up to OverlapSize characters so that a sentence
// straddling a cut is fully present in at least one segment.
//
//	chunker, err := chunking.New(chunking.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	for _, chunk := range chunker.Materialize(validated) {
//	    // chunk.Title carries "(Part i/N)" when N > 1
//	}
//
// All lengths are measured in characters (runes), not bytes.
package chunking
