package core

import "strings"

// MaxEmbeddingInput is the longest text passed to an embedder untruncated.
const MaxEmbeddingInput = 8000

// truncationMarker is appended to text cut short.
const truncationMarker = "..."

// NormalizeWhitespace collapses every whitespace run to a single space and
// trims both ends.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateForEmbedding cuts text longer than MaxEmbeddingInput characters and
// appends a marker.
func TruncateForEmbedding(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxEmbeddingInput {
		return text
	}
	return string(runes[:MaxEmbeddingInput]) + truncationMarker
}

// Truncate shortens text to at most max characters, marker included.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max <= len(truncationMarker) {
		return string(runes[:max])
	}
	return string(runes[:max-len(truncationMarker)]) + truncationMarker
}

// CombinedText builds the text that is embedded for a chunk:
//
//	Title: ... | Type: ... | Tax Year: ... | Form: ... | Content: ...
//
// Parts with empty values are omitted.
func CombinedText(chunk *ChunkRecord) string {
	parts := make([]string, 0, 5)
	if chunk.Title != "" {
		parts = append(parts, "Title: "+chunk.Title)
	}
	if chunk.PageType != "" {
		parts = append(parts, "Type: "+string(chunk.PageType))
	}
	if chunk.TaxYear != "" {
		parts = append(parts, "Tax Year: "+chunk.TaxYear)
	}
	if chunk.FormNumber != "" {
		parts = append(parts, "Form: "+chunk.FormNumber)
	}
	switch {
	case chunk.ChunkText != "":
		parts = append(parts, "Content: "+chunk.ChunkText)
	case chunk.Content != "":
		parts = append(parts, "Content: "+chunk.Content)
	}
	return strings.Join(parts, " | ")
}
