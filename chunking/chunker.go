package chunking

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/taxcrawl/core"
)

// boundaryWindow is how far back from a naive cut Split looks for a sentence
// ending.
const boundaryWindow = 200

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// Config holds chunking parameters. Sizes are in characters.
type Config struct {
	ChunkSize   int
	OverlapSize int
	MaxChunks   int
}

// DefaultConfig returns 3000-character chunks with 500 characters of overlap
// and at most 10 chunks per page.
func DefaultConfig() Config {
	return Config{
		ChunkSize:   3000,
		OverlapSize: 500,
		MaxChunks:   10,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", core.ErrConfiguration, c.ChunkSize)
	}
	if c.OverlapSize < 0 || c.OverlapSize >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", core.ErrConfiguration, c.OverlapSize, c.ChunkSize)
	}
	if c.MaxChunks < 1 {
		return fmt.Errorf("%w: max chunks must be at least 1, got %d", core.ErrConfiguration, c.MaxChunks)
	}
	return nil
}

// Chunker splits text into overlapping segments. It is stateless and safe
// for concurrent use.
type Chunker struct {
	config Config
}

// New creates a Chunker.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: cfg}, nil
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() Config {
	return c.config
}

// Split divides text into at most MaxChunks segments of at most ChunkSize
// characters each. Text no longer than ChunkSize is returned unchanged as the
// only segment.
func (c *Chunker) Split(text string) []string {
	if utf8.RuneCountInString(text) <= c.config.ChunkSize {
		return []string{text}
	}

	runes := []rune(text)
	size := c.config.ChunkSize
	overlap := c.config.OverlapSize

	var chunks []string
	start := 0
	for start < len(runes) && len(chunks) < c.config.MaxChunks {
		end := start + size

		if end < len(runes) {
			searchStart := max(start+size-boundaryWindow, start)
			if offset, ok := lastSentenceEnd(runes[searchStart:end]); ok {
				end = searchStart + offset
			}
			if end-start < overlap {
				end = start + size
			}
		} else {
			end = len(runes)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}

		next := end - overlap
		if len(chunks) > 1 && next <= end-size+overlap {
			next = end - overlap/2
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// lastSentenceEnd returns the rune offset just past the last sentence
// terminator and its trailing whitespace within segment.
func lastSentenceEnd(segment []rune) (int, bool) {
	s := string(segment)
	matches := sentenceEnd.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return 0, false
	}
	byteEnd := matches[len(matches)-1][1]
	return utf8.RuneCountInString(s[:byteEnd]), true
}

// Materialize splits a validated record's content and returns one
// ChunkRecord per segment. When there is more than one segment each title
// gets a "(Part i/N)" suffix.
func (c *Chunker) Materialize(record *core.ValidatedRecord) []*core.ChunkRecord {
	segments := c.Split(record.Content)
	total := len(segments)

	chunks := make([]*core.ChunkRecord, total)
	for i, segment := range segments {
		chunk := &core.ChunkRecord{
			ValidatedRecord: *record,
			ChunkIndex:      i,
			TotalChunks:     total,
			ChunkText:       segment,
			IsChunked:       total > 1,
		}
		if total > 1 {
			chunk.Title = fmt.Sprintf("%s (Part %d/%d)", record.Title, i+1, total)
		}
		chunks[i] = chunk
	}
	return chunks
}
