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



// Package ingestion drives pages through the crawl pipeline.
//
// For every URL taken from the frontier the Pipeline:
//   - acquires a slot from the shared rate limiter before each fetch attempt
//   - fetches and extracts the page
//   - validates and classifies it
//   - splits it into overlapping chunks
//   - embeds all chunks of the page in one batch
//   - stores the embedded chunks
//   - queues links discovered on the page
//
// Per-page failures are counted and logged and never stop the crawl. Only
// configuration errors are returned to the caller.
package ingestion
