package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/taxcrawl/ai"
	"github.com/poiesic/taxcrawl/chunking"
	"github.com/poiesic/taxcrawl/core"
	"github.com/poiesic/taxcrawl/fetch"
	"github.com/poiesic/taxcrawl/frontier"
	"github.com/poiesic/taxcrawl/retry"
	"github.com/poiesic/taxcrawl/storage"
	"github.com/poiesic/taxcrawl/validate"
)

const (
	// DefaultBaseURL is where a crawl starts when no start URL is given.
	DefaultBaseURL = "https://www.canada.ca/en/revenue-agency.html"

	// MaxLinksPerPage caps the links queued from one page.
	MaxLinksPerPage = 100

	defaultRetryAttempts = 3
	defaultRetryDelay    = 5 * time.Second
	reportTimeout        = 10 * time.Second
)

// Limiter gates outbound requests.
type Limiter interface {
	// Acquire blocks until a request may be issued and returns the time
	// spent waiting.
	Acquire(ctx context.Context) (time.Duration, error)

	// Stats returns a snapshot of window occupancy.
	Stats() core.WindowStats
}

// LinkDiscovery selects the pages whose links are queued.
type LinkDiscovery int

const (
	// DiscoverFromSeed queues links only from the page a crawl started at.
	DiscoverFromSeed LinkDiscovery = iota

	// DiscoverEverywhere queues links from every stored page.
	DiscoverEverywhere
)

// Pipeline crawls pages and stores their embedded chunks.
type Pipeline struct {
	fetcher   fetch.Fetcher
	embedder  ai.Embedder
	store     storage.ChunkStore
	limiter   Limiter
	validator *validate.Validator
	chunker   *chunking.Chunker
	frontier  frontier.Frontier
	runs      storage.RunRepository
	metrics   *Metrics
	logger    *slog.Logger

	poolSize      int
	maxPages      int
	retryAttempts int
	retryDelay    time.Duration
	baseURL       string
	discovery     LinkDiscovery

	stats   statsCollector
	running atomic.Bool

	mu   sync.Mutex
	seed string
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithValidator sets the page validator. Default is validate.New().
func WithValidator(v *validate.Validator) Option {
	return func(p *Pipeline) error {
		if v != nil {
			p.validator = v
		}
		return nil
	}
}

// WithChunker sets the text chunker. Default uses chunking.DefaultConfig().
func WithChunker(c *chunking.Chunker) Option {
	return func(p *Pipeline) error {
		if c != nil {
			p.chunker = c
		}
		return nil
	}
}

// WithFrontier sets the URL queue. Default is an in-memory frontier.
func WithFrontier(f frontier.Frontier) Option {
	return func(p *Pipeline) error {
		if f != nil {
			p.frontier = f
		}
		return nil
	}
}

// WithRunRepository persists a report at the end of every crawl.
func WithRunRepository(runs storage.RunRepository) Option {
	return func(p *Pipeline) error {
		p.runs = runs
		return nil
	}
}

// WithMetrics records page outcomes to Prometheus.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithPoolSize sets how many pages are processed concurrently.
// Default is 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.poolSize = size
		return nil
	}
}

// WithMaxPages caps the pages taken from the frontier per crawl.
// Default is the limiter's daily ceiling.
func WithMaxPages(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("%w: max pages must be positive, got %d", core.ErrConfiguration, n)
		}
		p.maxPages = n
		return nil
	}
}

// WithRetry sets how often a failed fetch is attempted and the initial
// backoff. Default is 3 attempts starting at 5s.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 || baseDelay < 0 {
			return fmt.Errorf("%w: retry attempts must be positive and delay non-negative", core.ErrConfiguration)
		}
		p.retryAttempts = maxAttempts
		p.retryDelay = baseDelay
		return nil
	}
}

// WithBaseURL sets the default start URL.
func WithBaseURL(u string) Option {
	return func(p *Pipeline) error {
		if u != "" {
			p.baseURL = u
		}
		return nil
	}
}

// WithLinkDiscovery selects which pages contribute links.
func WithLinkDiscovery(mode LinkDiscovery) Option {
	return func(p *Pipeline) error {
		p.discovery = mode
		return nil
	}
}

// NewPipeline creates a crawl pipeline. Every collaborator is required.
func NewPipeline(
	fetcher fetch.Fetcher,
	embedder ai.Embedder,
	store storage.ChunkStore,
	limiter Limiter,
	opts ...Option,
) (*Pipeline, error) {
	switch {
	case fetcher == nil:
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, ErrFetcherRequired)
	case embedder == nil:
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, ErrEmbedderRequired)
	case store == nil:
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, ErrStoreRequired)
	case limiter == nil:
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, ErrLimiterRequired)
	}

	chunker, err := chunking.New(chunking.DefaultConfig())
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		fetcher:       fetcher,
		embedder:      embedder,
		store:         store,
		limiter:       limiter,
		validator:     validate.New(),
		chunker:       chunker,
		frontier:      frontier.NewMemory(),
		logger:        slog.Default(),
		poolSize:      1,
		maxPages:      limiter.Stats().MaxPerDay,
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
		baseURL:       DefaultBaseURL,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.maxPages < 1 {
		p.maxPages = 1
	}
	p.logger = p.logger.With("component", "pipeline")
	p.seed = p.baseURL
	return p, nil
}

// Crawl processes pages starting at startURL, or the base URL when startURL
// is empty, until the frontier drains, the page cap is reached or ctx ends.
// Per-page failures are counted in the report. Only errors that prevent the
// crawl from starting are returned.
func (p *Pipeline) Crawl(ctx context.Context, startURL string) (*core.RunReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrCrawlInProgress
	}
	defer p.running.Store(false)

	if startURL == "" {
		startURL = p.baseURL
	}
	if _, err := url.ParseRequestURI(startURL); err != nil {
		return nil, fmt.Errorf("%w: invalid start url %q", core.ErrConfiguration, startURL)
	}

	p.stats.reset()
	p.mu.Lock()
	p.seed = startURL
	p.mu.Unlock()

	if err := p.frontier.Reset(ctx); err != nil {
		return nil, fmt.Errorf("resetting frontier: %w", err)
	}
	if _, err := p.frontier.Enqueue(ctx, startURL); err != nil {
		return nil, fmt.Errorf("seeding frontier: %w", err)
	}

	pool, err := ants.NewPool(p.poolSize)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	report := &core.RunReport{
		ID:        core.NewID(),
		StartURL:  startURL,
		StartedAt: time.Now().UTC(),
	}
	p.logger.Info("starting crawl", "run", report.ID, "start_url", startURL, "max_pages", p.maxPages, "workers", p.poolSize)

	p.dispatch(ctx, pool)

	report.FinishedAt = time.Now().UTC()
	report.Stats = p.stats.snapshot()
	report.Limiter = p.limiter.Stats()
	report.Canceled = ctx.Err() != nil

	// The report is still worth completing when the crawl was canceled.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	if info, err := p.store.Info(reportCtx); err != nil {
		p.logger.Warn("could not read collection info", "err", err)
	} else {
		report.Collection = info
	}
	if p.runs != nil {
		if err := p.runs.SaveRun(reportCtx, report); err != nil {
			p.logger.Error("could not save run report", "run", report.ID, "err", err)
		}
	}

	p.logger.Info("crawl finished",
		"run", report.ID,
		"crawled", report.Stats.PagesCrawled,
		"processed", report.Stats.PagesProcessed,
		"chunks", report.Stats.ChunksCreated,
		"validation_errors", report.Stats.ValidationErrors,
		"processing_errors", report.Stats.ProcessingErrors,
		"canceled", report.Canceled)
	return report, nil
}

// dispatch feeds frontier URLs to the pool and returns once nothing is in
// flight and no more work will be started.
func (p *Pipeline) dispatch(ctx context.Context, pool *ants.Pool) {
	completed := make(chan struct{}, p.poolSize+1)
	inflight := 0
	dispatched := 0

	for {
	drain:
		for {
			select {
			case <-completed:
				inflight--
			default:
				break drain
			}
		}

		if ctx.Err() != nil || dispatched >= p.maxPages {
			break
		}

		next, err := p.frontier.Next(ctx)
		if errors.Is(err, frontier.ErrEmpty) {
			if inflight == 0 {
				break
			}
			// A page in flight may still queue links.
			select {
			case <-completed:
				inflight--
			case <-ctx.Done():
			}
			continue
		}
		if err != nil {
			p.logger.Error("could not read frontier", "err", err)
			break
		}

		inflight++
		dispatched++
		err = pool.Submit(func() {
			defer func() { completed <- struct{}{} }()
			p.ProcessPage(ctx, next)
		})
		if err != nil {
			inflight--
			p.logger.Error("could not schedule page", "url", next, "err", err)
			break
		}
	}

	for inflight > 0 {
		<-completed
		inflight--
	}
}

// Stats returns a snapshot of the current crawl's counters.
func (p *Pipeline) Stats() core.RunStats {
	return p.stats.snapshot()
}

// ProcessPage runs one URL through fetch, validation, chunking, embedding and
// storage and updates the crawl counters. The returned error reports why the
// page was not stored: it wraps core.ErrExtraction, core.ErrValidation or
// core.ErrProcessing, or is the context error. Callers running a crawl may
// ignore it.
func (p *Pipeline) ProcessPage(ctx context.Context, pageURL string) (err error) {
	logger := p.logger.With("url", pageURL)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", core.ErrProcessing, r)
			logger.Error("page processing panicked", "err", err)
			p.stats.update(func(s *core.RunStats) { s.ProcessingErrors++ })
			p.metrics.page(OutcomeProcessingError)
		}
	}()

	page, err := p.fetchPage(ctx, pageURL)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.stats.update(func(s *core.RunStats) { s.PagesCrawled++ })
	p.metrics.page(OutcomeCrawled)
	if err != nil {
		logger.Debug("skipping page without usable content", "err", err)
		p.metrics.page(OutcomeExtractionSkipped)
		if !errors.Is(err, core.ErrExtraction) {
			err = fmt.Errorf("%w: %w", core.ErrExtraction, err)
		}
		return err
	}

	validated, err := p.validator.Validate(page.Record)
	if err != nil {
		logger.Debug("page rejected", "err", err)
		p.stats.update(func(s *core.RunStats) { s.ValidationErrors++ })
		p.metrics.page(OutcomeValidationError)
		return err
	}
	p.stats.update(func(s *core.RunStats) { s.PagesProcessed++ })
	p.metrics.page(OutcomeProcessed)

	stored, err := p.storeChunks(ctx, validated)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("page processing failed", "err", err)
		p.stats.update(func(s *core.RunStats) { s.ProcessingErrors++ })
		p.metrics.page(OutcomeProcessingError)
		return fmt.Errorf("%w: %w", core.ErrProcessing, err)
	}
	p.stats.update(func(s *core.RunStats) {
		s.PagesStored += stored
		s.ChunksCreated += stored
	})
	p.metrics.page(OutcomeStored)
	p.metrics.chunks(stored)
	logger.Info("stored page", "title", validated.Title, "type", validated.PageType, "chunks", stored)

	if p.shouldDiscover(pageURL) {
		p.discoverLinks(ctx, logger, page.Links)
	}
	return nil
}

// fetchPage fetches with retries. Every attempt acquires the limiter first.
// Extraction failures are not retried.
func (p *Pipeline) fetchPage(ctx context.Context, pageURL string) (*fetch.Page, error) {
	var page *fetch.Page
	err := retry.WithBackoff(ctx, func() error {
		waited, err := p.limiter.Acquire(ctx)
		if err != nil {
			return retry.Permanent(err)
		}
		p.metrics.rateWait(waited)

		page, err = p.fetcher.Fetch(ctx, pageURL)
		if errors.Is(err, core.ErrExtraction) {
			return retry.Permanent(err)
		}
		return err
	}, p.retryAttempts, p.retryDelay)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// storeChunks chunks, embeds and stores a validated page and returns the
// number of chunks stored.
func (p *Pipeline) storeChunks(ctx context.Context, validated *core.ValidatedRecord) (int, error) {
	chunks := p.chunker.Materialize(validated)

	embedded := make([]*core.EmbeddedChunk, len(chunks))
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		embedded[i] = &core.EmbeddedChunk{
			ChunkRecord:  *chunk,
			CombinedText: core.CombinedText(chunk),
		}
		texts[i] = core.TruncateForEmbedding(embedded[i].CombinedText)
	}

	vectors, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(embedded) {
		return 0, fmt.Errorf("embedding result mismatch: expected %d, received %d", len(embedded), len(vectors))
	}
	dims := p.embedder.Dimensions()
	for i, vector := range vectors {
		if len(vector) != dims {
			return 0, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(vector), dims)
		}
		embedded[i].Vector = vector
	}

	if len(embedded) > 1 {
		if _, err := p.store.PutBatch(ctx, embedded); err != nil {
			return 0, fmt.Errorf("storing %d chunks: %w", len(embedded), err)
		}
	} else {
		if _, err := p.store.Put(ctx, embedded[0]); err != nil {
			return 0, fmt.Errorf("storing chunk: %w", err)
		}
	}
	return len(embedded), nil
}

func (p *Pipeline) shouldDiscover(pageURL string) bool {
	if p.discovery == DiscoverEverywhere {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return pageURL == p.seed
}

// discoverLinks queues up to MaxLinksPerPage allowed links.
func (p *Pipeline) discoverLinks(ctx context.Context, logger *slog.Logger, links []string) {
	candidates := p.FilterLinks(links)
	if len(candidates) == 0 {
		return
	}
	added, err := p.frontier.Enqueue(ctx, candidates...)
	if err != nil {
		logger.Warn("could not queue discovered links", "err", err)
		return
	}
	logger.Info("discovered links", "candidates", len(candidates), "queued", added)
}

// FilterLinks keeps links on allowed domains, strips fragments, removes
// duplicates and caps the result at MaxLinksPerPage.
func (p *Pipeline) FilterLinks(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, min(len(links), MaxLinksPerPage))
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		u.Fragment = ""
		u.RawFragment = ""
		normalized := u.String()
		if !p.validator.ValidateURL(normalized) {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
		if len(out) == MaxLinksPerPage {
			break
		}
	}
	return out
}
