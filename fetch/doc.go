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



// Package fetch retrieves pages and turns their HTML into page records.
//
// Two drivers implement Fetcher: HTTPFetcher issues plain GET requests and
// BrowserFetcher renders pages in headless Chrome through chromedp. Both hand
// the resulting HTML to an Extractor, which picks the title, the main content
// block and the candidate outbound links.
//
// Fetchers do not rate limit. Callers gate every Fetch with a shared limiter.
package fetch
