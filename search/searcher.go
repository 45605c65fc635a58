package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/taxcrawl/ai"
	"github.com/poiesic/taxcrawl/core"
	"github.com/poiesic/taxcrawl/storage"
)

const (
	// DefaultScoreThreshold is the minimum cosine similarity of a hit.
	DefaultScoreThreshold float32 = 0.7

	// DefaultLimit is the number of hits returned when no limit is given.
	DefaultLimit = 10

	// verbatimBoost is added to hits containing every query word.
	verbatimBoost float32 = 0.3
)

// Searcher answers natural-language queries against stored chunks.
type Searcher struct {
	store     storage.ChunkStore
	embedder  ai.Embedder
	threshold float32
	boost     bool
	logger    *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithScoreThreshold sets the minimum similarity. Default is 0.7.
func WithScoreThreshold(threshold float32) Option {
	return func(s *Searcher) error {
		if threshold < -1 || threshold > 1 {
			return fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
		}
		s.threshold = threshold
		return nil
	}
}

// WithVerbatimBoost raises hits whose chunk text contains every query word
// (stop words aside) and re-sorts the results.
func WithVerbatimBoost(enabled bool) Option {
	return func(s *Searcher) error {
		s.boost = enabled
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(store storage.ChunkStore, embedder ai.Embedder, opts ...Option) (*Searcher, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, ErrStoreRequired)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, ErrEmbedderRequired)
	}

	s := &Searcher{
		store:     store,
		embedder:  embedder,
		threshold: DefaultScoreThreshold,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "searcher")
	return s, nil
}

// Search returns up to limit chunks similar to query, best first. A
// non-positive limit means DefaultLimit.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]*core.SearchResult, error) {
	return s.SearchWithMonitor(ctx, query, limit, nil)
}

// SearchWithMonitor is Search with callbacks at each stage.
func (s *Searcher) SearchWithMonitor(ctx context.Context, query string, limit int, monitor SearchMonitor) ([]*core.SearchResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	monitor.Start(query)

	embedding, err := s.embedder.EmbedText(ctx, core.TruncateForEmbedding(query))
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}
	monitor.AfterEmbedding(len(embedding))

	results, err := s.store.Search(ctx, embedding, limit, s.threshold)
	if err != nil {
		s.logger.Error("error querying for similar chunks", "err", err)
		return nil, err
	}
	monitor.AfterVectorSearch(results)

	if s.boost {
		for _, result := range results {
			if containsAllQueryWords(result.Chunk.ChunkText, query) {
				result.Score += verbatimBoost
				monitor.VerbatimHit(result)
			}
		}
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Score > results[j].Score
		})
	}

	s.logger.Debug("search complete", "query", query, "hits", len(results))
	monitor.Finish(results)
	return results, nil
}
