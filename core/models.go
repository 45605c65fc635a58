package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ID is an opaque identifier assigned by a chunk store.
type ID string

// NewID returns a random UUID suitable as a vector store point id.
func NewID() ID {
	return ID(uuid.NewString())
}

// Fingerprint generates a deterministic 64-bit digest of text using BLAKE2b hashing.
// Identical input always produces the identical fingerprint.
func Fingerprint(text string) uint64 {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}

// PageType classifies an accepted page.
type PageType string

const (
	PageTypeGeneral  PageType = "general"
	PageTypeForms    PageType = "forms"
	PageTypeBusiness PageType = "business"
	PageTypePersonal PageType = "personal"
)

// PageRecord is the raw output of page extraction.
type PageRecord struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// ValidatedRecord is a PageRecord that passed validation, enriched with
// classification metadata. Empty TaxYear or FormNumber means none was found.
type ValidatedRecord struct {
	PageRecord
	PageType   PageType `json:"page_type"`
	TaxYear    string   `json:"tax_year,omitempty"`
	FormNumber string   `json:"form_number,omitempty"`
}

// ChunkRecord is one segment of a ValidatedRecord. When the record was split
// into more than one chunk, Title carries a "(Part i/N)" suffix.
type ChunkRecord struct {
	ValidatedRecord
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	ChunkText   string `json:"chunk_text"`
	IsChunked   bool   `json:"is_chunked"`
}

// EmbeddedChunk is a ChunkRecord paired with its embedding and the text the
// embedding was computed from.
type EmbeddedChunk struct {
	ChunkRecord
	Vector       []float32 `json:"-"`
	CombinedText string    `json:"combined_text"`
}

// SearchResult is a stored chunk ranked against a query vector.
// Chunk.Vector is not populated.
type SearchResult struct {
	ID    ID
	Score float32
	Chunk *EmbeddedChunk
}

// CollectionInfo describes the state of a vector collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount uint64 `json:"points_count"`
	VectorSize  int    `json:"vector_size"`
	Distance    string `json:"distance"`
}

// RunStats holds the counters of a single crawl invocation.
type RunStats struct {
	PagesCrawled     int `json:"pages_crawled"`
	PagesProcessed   int `json:"pages_processed"`
	PagesStored      int `json:"pages_stored"`
	ChunksCreated    int `json:"chunks_created"`
	ValidationErrors int `json:"validation_errors"`
	ProcessingErrors int `json:"processing_errors"`
}

// WindowStats is a snapshot of rate limiter occupancy.
type WindowStats struct {
	RequestsLastMinute int `json:"requests_last_minute"`
	RequestsLastHour   int `json:"requests_last_hour"`
	RequestsLastDay    int `json:"requests_last_day"`
	MaxPerMinute       int `json:"max_per_minute"`
	MaxPerHour         int `json:"max_per_hour"`
	MaxPerDay          int `json:"max_per_day"`
}

// RunReport is returned at the end of a crawl and optionally persisted.
type RunReport struct {
	ID         ID              `json:"id"`
	StartURL   string          `json:"start_url"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Stats      RunStats        `json:"stats"`
	Limiter    WindowStats     `json:"rate_limiter_stats"`
	Collection *CollectionInfo `json:"collection_stats,omitempty"`
	Canceled   bool            `json:"canceled,omitempty"`
}
