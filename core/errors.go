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


package core

import "errors"

// Error kinds. Every error raised by the ingest pipeline wraps exactly one of these.
var (
	// ErrValidation indicates a page was rejected on structural or relevance grounds.
	ErrValidation = errors.New("validation failed")

	// ErrExtraction indicates the fetch layer produced no usable content.
	ErrExtraction = errors.New("no usable content extracted")

	// ErrProcessing indicates a failure after validation, e.g. embedding or storage.
	ErrProcessing = errors.New("processing failed")

	// ErrConfiguration indicates missing or invalid settings detected at startup.
	ErrConfiguration = errors.New("invalid configuration")
)

// Validation causes, wrapped together with ErrValidation.
var (
	// ErrFieldBounds indicates a title or content length outside its bounds.
	ErrFieldBounds = errors.New("field out of bounds")

	// ErrMalformedURL indicates a URL that is not absolute http(s).
	ErrMalformedURL = errors.New("malformed url")

	// ErrDomainNotAllowed indicates a URL host outside the allowed domains.
	ErrDomainNotAllowed = errors.New("url not from allowed domains")

	// ErrNotRelevant indicates content without any domain keyword.
	ErrNotRelevant = errors.New("content not relevant to tax information")
)
