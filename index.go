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



// Package taxcrawl wires configuration into a ready-to-use crawl index: the
// chunk store, run history, embedder, fetcher, frontier and rate limiter.
package taxcrawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/poiesic/taxcrawl/ai"
	"github.com/poiesic/taxcrawl/ai/openai"
	"github.com/poiesic/taxcrawl/chunking"
	"github.com/poiesic/taxcrawl/config"
	"github.com/poiesic/taxcrawl/fetch"
	"github.com/poiesic/taxcrawl/frontier"
	"github.com/poiesic/taxcrawl/ingestion"
	"github.com/poiesic/taxcrawl/ratelimit"
	"github.com/poiesic/taxcrawl/reembed"
	"github.com/poiesic/taxcrawl/search"
	"github.com/poiesic/taxcrawl/storage"
	"github.com/poiesic/taxcrawl/storage/badger"
	"github.com/poiesic/taxcrawl/storage/qdrant"
	"github.com/poiesic/taxcrawl/validate"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrReembedUnsupported is returned when the configured store cannot be
// walked for re-embedding.
var ErrReembedUnsupported = errors.New("store backend does not support reembedding")

type Index struct {
	cfg      *config.Config
	backend  *badger.Backend
	store    storage.ChunkStore
	runs     storage.RunRepository
	provider ai.AIProvider
	metrics  *ingestion.Metrics
	logger   *slog.Logger
}

// IndexOption configures an Index.
type IndexOption func(*indexOptions)

type indexOptions struct {
	provider   ai.AIProvider
	inMemory   bool
	registerer prometheus.Registerer
	logger     *slog.Logger
}

// WithAIProvider replaces the OpenAI-compatible provider built from config.
func WithAIProvider(provider ai.AIProvider) IndexOption {
	return func(o *indexOptions) {
		o.provider = provider
	}
}

// WithInMemory keeps run history (and badger chunks) in memory instead of
// under data_dir.
func WithInMemory() IndexOption {
	return func(o *indexOptions) {
		o.inMemory = true
	}
}

// WithRegisterer registers crawl metrics on reg.
func WithRegisterer(reg prometheus.Registerer) IndexOption {
	return func(o *indexOptions) {
		o.registerer = reg
	}
}

func WithLogger(logger *slog.Logger) IndexOption {
	return func(o *indexOptions) {
		o.logger = logger
	}
}

// Open validates cfg and opens the stores and embedding provider it
// describes. Run history always lives in badger under data_dir; chunks live
// there too unless the qdrant backend is selected.
func Open(ctx context.Context, cfg *config.Config, opts ...IndexOption) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &indexOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	dbPath := ""
	if !options.inMemory {
		dbPath = filepath.Join(cfg.DataDir, "db")
	}
	backend, err := badger.OpenBackend(dbPath, options.inMemory)
	if err != nil {
		return nil, err
	}

	var store storage.ChunkStore
	switch cfg.Store.Backend {
	case config.BackendQdrant:
		store, err = qdrant.Open(ctx, cfg.QdrantStoreConfig(), qdrant.WithLogger(options.logger))
		if err != nil {
			backend.Close()
			return nil, err
		}
	default:
		store = badger.NewChunkStore(backend, cfg.Qdrant.CollectionName, cfg.Embedding.VectorSize)
	}

	provider := options.provider
	if provider == nil {
		provider, err = openai.NewProvider(cfg.AIConfig())
		if err != nil {
			store.Close()
			backend.Close()
			return nil, err
		}
	}

	idx := &Index{
		cfg:      cfg,
		backend:  backend,
		store:    store,
		runs:     badger.NewRunRepository(backend),
		provider: provider,
		logger:   options.logger,
	}
	if options.registerer != nil {
		idx.metrics = ingestion.NewMetrics(options.registerer)
	}
	return idx, nil
}

func (idx *Index) Close() error {
	var errs []error
	if err := idx.provider.Close(); err != nil {
		idx.logger.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}
	if err := idx.store.Close(); err != nil {
		idx.logger.Error("error closing chunk store", "err", err)
		errs = append(errs, err)
	}
	if err := idx.backend.Close(); err != nil {
		idx.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (idx *Index) Config() *config.Config {
	return idx.cfg
}

func (idx *Index) Store() storage.ChunkStore {
	return idx.store
}

func (idx *Index) Runs() storage.RunRepository {
	return idx.runs
}

func (idx *Index) Embedder() ai.Embedder {
	return idx.provider.Embedder()
}

// NewValidator builds the page validator for the configured domains and
// length bounds.
func (idx *Index) NewValidator() *validate.Validator {
	return validate.New(
		validate.WithAllowedDomains(idx.cfg.AllowedDomains...),
		validate.WithLengthBounds(idx.cfg.MinTextLength, idx.cfg.MaxTextLength),
	)
}

// NewFetcher builds the configured fetch driver.
func (idx *Index) NewFetcher() fetch.Fetcher {
	opts := []fetch.Option{
		fetch.WithTimeout(idx.cfg.Fetch.Timeout),
		fetch.WithExtractor(fetch.NewExtractor(fetch.WithTextBounds(idx.cfg.MinTextLength, idx.cfg.MaxTextLength))),
		fetch.WithLogger(idx.logger),
	}
	if idx.cfg.Fetch.UserAgent != "" {
		opts = append(opts, fetch.WithUserAgent(idx.cfg.Fetch.UserAgent))
	}
	if idx.cfg.Fetch.Driver == config.FetchBrowser {
		return fetch.NewBrowserFetcher(opts...)
	}
	return fetch.NewHTTPFetcher(opts...)
}

// NewFrontier builds the configured frontier. A redis frontier is dialed and
// pinged before it is returned.
func (idx *Index) NewFrontier(ctx context.Context) (frontier.Frontier, error) {
	if idx.cfg.Frontier.Driver == config.FrontierRedis {
		return frontier.DialRedis(ctx, idx.cfg.Frontier.RedisAddr, frontier.WithNamespace(idx.cfg.Frontier.Namespace))
	}
	return frontier.NewMemory(), nil
}

// Crawler is a pipeline together with the fetcher and frontier it owns.
type Crawler struct {
	*ingestion.Pipeline
	fetcher  fetch.Fetcher
	frontier frontier.Frontier
}

// Close releases the fetcher and frontier.
func (c *Crawler) Close() error {
	return errors.Join(c.fetcher.Close(), c.frontier.Close())
}

// NewCrawler builds a crawl pipeline from config. opts are applied after the
// configured ones and may override them.
func (idx *Index) NewCrawler(ctx context.Context, opts ...ingestion.Option) (*Crawler, error) {
	limiter, err := ratelimit.New(idx.cfg.RateLimitConfig(), ratelimit.WithLogger(idx.logger))
	if err != nil {
		return nil, err
	}
	chunker, err := chunking.New(idx.cfg.ChunkingConfig())
	if err != nil {
		return nil, err
	}
	front, err := idx.NewFrontier(ctx)
	if err != nil {
		return nil, err
	}
	fetcher := idx.NewFetcher()

	base := []ingestion.Option{
		ingestion.WithValidator(idx.NewValidator()),
		ingestion.WithChunker(chunker),
		ingestion.WithFrontier(front),
		ingestion.WithRunRepository(idx.runs),
		ingestion.WithLogger(idx.logger),
		ingestion.WithPoolSize(idx.cfg.Limits.MaxConcurrentRequests),
		ingestion.WithRetry(idx.cfg.Limits.MaxRetries, idx.cfg.Limits.RetryDelay),
		ingestion.WithBaseURL(idx.cfg.BaseURL),
	}
	if idx.cfg.Limits.MaxPages > 0 {
		base = append(base, ingestion.WithMaxPages(idx.cfg.Limits.MaxPages))
	}
	if idx.metrics != nil {
		base = append(base, ingestion.WithMetrics(idx.metrics))
	}

	pipeline, err := ingestion.NewPipeline(fetcher, idx.Embedder(), idx.store, limiter, append(base, opts...)...)
	if err != nil {
		fetcher.Close()
		front.Close()
		return nil, err
	}
	return &Crawler{Pipeline: pipeline, fetcher: fetcher, frontier: front}, nil
}

// NewSearcher builds a searcher using the configured score threshold.
func (idx *Index) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	base := []search.Option{
		search.WithScoreThreshold(idx.cfg.Store.ScoreThreshold),
		search.WithLogger(idx.logger),
	}
	return search.NewSearcher(idx.store, idx.Embedder(), append(base, opts...)...)
}

// NewReembedder builds a reembedder over the chunk store. Only stores that
// can be scanned in place are supported.
func (idx *Index) NewReembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	store, ok := idx.store.(reembed.Store)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReembedUnsupported, idx.cfg.Store.Backend)
	}
	return reembed.NewReembedder(store, idx.Embedder(), cfg, progress), nil
}
