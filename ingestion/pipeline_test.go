package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/taxcrawl/ai/mock"
	"github.com/poiesic/taxcrawl/core"
	"github.com/poiesic/taxcrawl/fetch"
	"github.com/poiesic/taxcrawl/frontier"
	"github.com/poiesic/taxcrawl/storage"
	"github.com/poiesic/taxcrawl/storage/badger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDims  = 8
	seedURL   = "https://www.canada.ca/en/revenue-agency.html"
	formsURL  = "https://www.canada.ca/en/services/forms.html"
	guideURL  = "https://www.canada.ca/en/services/guide.html"
	deeperURL = "https://www.canada.ca/en/services/deeper.html"
)

var taxContent = "Information about personal income tax filing for the 2024 tax year. Complete form T1 before April 30."

// testFetcher serves canned pages. Unknown URLs fail extraction.
type testFetcher struct {
	mu    sync.Mutex
	pages map[string]*fetch.Page
	errs  map[string][]error
	calls map[string]int
}

func newTestFetcher() *testFetcher {
	return &testFetcher{
		pages: make(map[string]*fetch.Page),
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

func (f *testFetcher) add(url, title, content string, links ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = &fetch.Page{
		Record: core.PageRecord{
			URL:         url,
			Title:       title,
			Content:     content,
			ExtractedAt: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC),
		},
		Links: links,
	}
}

func (f *testFetcher) failFirst(url string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = errs
}

func (f *testFetcher) Fetch(ctx context.Context, url string) (*fetch.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if errs := f.errs[url]; len(errs) > 0 {
		f.errs[url] = errs[1:]
		return nil, errs[0]
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return nil, fmt.Errorf("%w: %s not found", core.ErrExtraction, url)
}

func (f *testFetcher) Close() error { return nil }

func (f *testFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// testLimiter counts acquisitions without waiting.
type testLimiter struct {
	acquired atomic.Int64
}

func (l *testLimiter) Acquire(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.acquired.Add(1)
	return 0, nil
}

func (l *testLimiter) Stats() core.WindowStats {
	return core.WindowStats{
		RequestsLastDay: int(l.acquired.Load()),
		MaxPerMinute:    10,
		MaxPerHour:      200,
		MaxPerDay:       1000,
	}
}

// recordingStore counts the store paths used.
type recordingStore struct {
	storage.ChunkStore
	mu        sync.Mutex
	puts      int
	batches   int
	lastBatch []*core.EmbeddedChunk
	panicOn   string
}

func (s *recordingStore) Put(ctx context.Context, chunk *core.EmbeddedChunk) (core.ID, error) {
	s.mu.Lock()
	s.puts++
	panicOn := s.panicOn
	s.mu.Unlock()
	if panicOn != "" && chunk.URL == panicOn {
		panic("store exploded")
	}
	return s.ChunkStore.Put(ctx, chunk)
}

func (s *recordingStore) PutBatch(ctx context.Context, chunks []*core.EmbeddedChunk) ([]core.ID, error) {
	s.mu.Lock()
	s.batches++
	s.lastBatch = chunks
	s.mu.Unlock()
	return s.ChunkStore.PutBatch(ctx, chunks)
}

type testEnv struct {
	fetcher  *testFetcher
	embedder *mock.MockEmbedder
	store    *recordingStore
	limiter  *testLimiter
	runs     *badger.RunRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	chunks, runs, backend, err := badger.NewMemoryStores("cra_tax_info", testDims)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	return &testEnv{
		fetcher:  newTestFetcher(),
		embedder: mock.NewMockEmbedderWithDimensions(testDims),
		store:    &recordingStore{ChunkStore: chunks},
		limiter:  &testLimiter{},
		runs:     runs,
	}
}

func (e *testEnv) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithRetry(3, time.Millisecond), WithRunRepository(e.runs)}, opts...)
	p, err := NewPipeline(e.fetcher, e.embedder, e.store, e.limiter, opts...)
	require.NoError(t, err)
	return p
}

func (e *testEnv) count(t *testing.T) uint64 {
	t.Helper()
	n, err := e.store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		build func() (*Pipeline, error)
		cause error
	}{
		{"fetcher", func() (*Pipeline, error) { return NewPipeline(nil, env.embedder, env.store, env.limiter) }, ErrFetcherRequired},
		{"embedder", func() (*Pipeline, error) { return NewPipeline(env.fetcher, nil, env.store, env.limiter) }, ErrEmbedderRequired},
		{"store", func() (*Pipeline, error) { return NewPipeline(env.fetcher, env.embedder, nil, env.limiter) }, ErrStoreRequired},
		{"limiter", func() (*Pipeline, error) { return NewPipeline(env.fetcher, env.embedder, env.store, nil) }, ErrLimiterRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.build()
			assert.Nil(t, p)
			assert.ErrorIs(t, err, core.ErrConfiguration)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestNewPipeline_InvalidOptions(t *testing.T) {
	env := newTestEnv(t)

	_, err := NewPipeline(env.fetcher, env.embedder, env.store, env.limiter, WithMaxPages(0))
	assert.ErrorIs(t, err, core.ErrConfiguration)

	_, err = NewPipeline(env.fetcher, env.embedder, env.store, env.limiter, WithRetry(0, time.Second))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestNewPipeline_Defaults(t *testing.T) {
	env := newTestEnv(t)
	p, err := NewPipeline(env.fetcher, env.embedder, env.store, env.limiter)
	require.NoError(t, err)

	assert.Equal(t, 1000, p.maxPages, "max pages defaults to the daily ceiling")
	assert.Equal(t, 1, p.poolSize)
	assert.Equal(t, DefaultBaseURL, p.baseURL)
	assert.Equal(t, DiscoverFromSeed, p.discovery)
}

func TestProcessPage_SingleChunk(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(formsURL, "Personal Income Tax", taxContent)
	p := env.pipeline(t)

	require.NoError(t, p.ProcessPage(context.Background(), formsURL))

	assert.Equal(t, core.RunStats{PagesCrawled: 1, PagesProcessed: 1, PagesStored: 1, ChunksCreated: 1}, p.Stats())
	assert.Equal(t, 1, env.store.puts)
	assert.Equal(t, 0, env.store.batches)
	assert.Equal(t, 1, env.embedder.CallCount())
	assert.Equal(t, int64(1), env.limiter.acquired.Load())
	assert.Equal(t, uint64(1), env.count(t))

	texts := env.embedder.Texts()
	require.Len(t, texts, 1)
	assert.Equal(t, "Title: Personal Income Tax | Type: forms | Tax Year: 2024 | Form: T1 | Content: "+taxContent, texts[0])
}

func TestProcessPage_MultipleChunksUseBatch(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(formsURL, "Tax Guide", strings.Repeat("tax ", 800))
	p := env.pipeline(t)

	require.NoError(t, p.ProcessPage(context.Background(), formsURL))

	assert.Equal(t, 0, env.store.puts)
	assert.Equal(t, 1, env.store.batches)
	assert.Equal(t, 1, env.embedder.CallCount(), "all chunks of a page are embedded in one call")

	require.Len(t, env.store.lastBatch, 2)
	assert.True(t, strings.HasSuffix(env.store.lastBatch[0].Title, "(Part 1/2)"))
	assert.True(t, strings.HasSuffix(env.store.lastBatch[1].Title, "(Part 2/2)"))
	for _, chunk := range env.store.lastBatch {
		assert.Len(t, chunk.Vector, testDims)
		assert.Equal(t, core.CombinedText(&chunk.ChunkRecord), chunk.CombinedText)
	}

	stats := p.Stats()
	assert.Equal(t, 1, stats.PagesProcessed)
	assert.Equal(t, 2, stats.PagesStored)
	assert.Equal(t, 2, stats.ChunksCreated)
	assert.Equal(t, uint64(2), env.count(t))
}

func TestProcessPage_IrrelevantPageIsValidationError(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(formsURL, "Weather Report", strings.Repeat("a", 150))
	p := env.pipeline(t)

	err := p.ProcessPage(context.Background(), formsURL)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.ErrorIs(t, err, core.ErrNotRelevant)

	assert.Equal(t, core.RunStats{PagesCrawled: 1, ValidationErrors: 1}, p.Stats())
	assert.Zero(t, env.embedder.CallCount())
}

func TestProcessPage_ExtractionFailureIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	p := env.pipeline(t)

	err := p.ProcessPage(context.Background(), formsURL)
	assert.ErrorIs(t, err, core.ErrExtraction)

	assert.Equal(t, core.RunStats{PagesCrawled: 1}, p.Stats())
	assert.Equal(t, 1, env.fetcher.callCount(formsURL), "extraction failures are not retried")
}

func TestProcessPage_RetriesTransientFetchErrors(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(formsURL, "Personal Income Tax", taxContent)
	env.fetcher.failFirst(formsURL, fmt.Errorf("%w: 503", fetch.ErrStatus))
	p := env.pipeline(t)

	require.NoError(t, p.ProcessPage(context.Background(), formsURL))

	assert.Equal(t, 2, env.fetcher.callCount(formsURL))
	assert.Equal(t, int64(2), env.limiter.acquired.Load(), "every attempt acquires the limiter")
	assert.Equal(t, 1, p.Stats().PagesStored)
}

func TestProcessPage_ExhaustedRetriesAreSkipped(t *testing.T) {
	env := newTestEnv(t)
	boom := errors.New("connection reset")
	env.fetcher.failFirst(formsURL, boom, boom, boom)
	p := env.pipeline(t)

	err := p.ProcessPage(context.Background(), formsURL)
	assert.ErrorIs(t, err, core.ErrExtraction)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 3, env.fetcher.callCount(formsURL))
	assert.Equal(t, core.RunStats{PagesCrawled: 1}, p.Stats())
}

func TestProcessPage_EmbedderFailures(t *testing.T) {
	tests := []struct {
		name  string
		embed func(ctx context.Context, texts []string) ([][]float32, error)
	}{
		{"error", func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("model offline")
		}},
		{"count mismatch", func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{}, nil
		}},
		{"dimension mismatch", func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{{1, 2, 3}}, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.fetcher.add(formsURL, "Personal Income Tax", taxContent)
			env.embedder.EmbedTextsFunc = tt.embed
			p := env.pipeline(t)

			err := p.ProcessPage(context.Background(), formsURL)
			assert.ErrorIs(t, err, core.ErrProcessing)

			assert.Equal(t, core.RunStats{PagesCrawled: 1, PagesProcessed: 1, ProcessingErrors: 1}, p.Stats())
			assert.Zero(t, env.count(t))
		})
	}
}

func TestProcessPage_RecoversFromPanic(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(formsURL, "Personal Income Tax", taxContent)
	env.store.panicOn = formsURL
	p := env.pipeline(t)

	err := p.ProcessPage(context.Background(), formsURL)
	assert.ErrorIs(t, err, core.ErrProcessing)
	assert.Equal(t, 1, p.Stats().ProcessingErrors)
}

func TestProcessPage_Canceled(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(formsURL, "Personal Income Tax", taxContent)
	p := env.pipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.ProcessPage(ctx, formsURL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, core.RunStats{}, p.Stats())
	assert.Zero(t, env.fetcher.callCount(formsURL))
}

func TestCrawl_FollowsLinksFromSeed(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(seedURL, "Canada Revenue Agency", taxContent,
		formsURL, guideURL+"#section", guideURL, "https://example.com/tax")
	env.fetcher.add(formsURL, "Forms", taxContent, deeperURL)
	env.fetcher.add(guideURL, "Guide", taxContent)
	env.fetcher.add(deeperURL, "Deeper", taxContent)
	p := env.pipeline(t)

	report, err := p.Crawl(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, seedURL, report.StartURL)
	assert.NotEmpty(t, report.ID)
	assert.False(t, report.Canceled)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.Equal(t, core.RunStats{PagesCrawled: 3, PagesProcessed: 3, PagesStored: 3, ChunksCreated: 3}, report.Stats)
	assert.Equal(t, 3, report.Limiter.RequestsLastDay)

	require.NotNil(t, report.Collection)
	assert.Equal(t, uint64(3), report.Collection.PointsCount)

	assert.Equal(t, 1, env.fetcher.callCount(guideURL), "fragment links are deduplicated")
	assert.Zero(t, env.fetcher.callCount(deeperURL), "only the seed page contributes links")
	assert.Zero(t, env.fetcher.callCount("https://example.com/tax"))

	runs, err := env.runs.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.ID, runs[0].ID)
	assert.Equal(t, report.Stats, runs[0].Stats)
}

func TestCrawl_DiscoverEverywhere(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(seedURL, "Canada Revenue Agency", taxContent, formsURL)
	env.fetcher.add(formsURL, "Forms", taxContent, deeperURL, seedURL)
	env.fetcher.add(deeperURL, "Deeper", taxContent)
	p := env.pipeline(t, WithLinkDiscovery(DiscoverEverywhere))

	report, err := p.Crawl(context.Background(), seedURL)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Stats.PagesStored)
	assert.Equal(t, 1, env.fetcher.callCount(seedURL), "a URL is fetched once per crawl")
	assert.Equal(t, 1, env.fetcher.callCount(deeperURL))
}

func TestCrawl_MaxPages(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(seedURL, "Canada Revenue Agency", taxContent, formsURL, guideURL)
	env.fetcher.add(formsURL, "Forms", taxContent)
	env.fetcher.add(guideURL, "Guide", taxContent)
	p := env.pipeline(t, WithMaxPages(2))

	report, err := p.Crawl(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.PagesCrawled)
}

func TestCrawl_CountsFailuresWithoutAborting(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(seedURL, "Canada Revenue Agency", taxContent, formsURL, guideURL, deeperURL)
	env.fetcher.add(formsURL, "Weather Report", strings.Repeat("a", 150))
	env.fetcher.add(guideURL, "Guide", taxContent)
	env.store.panicOn = guideURL
	p := env.pipeline(t)

	report, err := p.Crawl(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, core.RunStats{
		PagesCrawled:     4,
		PagesProcessed:   2,
		PagesStored:      1,
		ChunksCreated:    1,
		ValidationErrors: 1,
		ProcessingErrors: 1,
	}, report.Stats)
}

func TestCrawl_ConcurrentWorkers(t *testing.T) {
	env := newTestEnv(t)
	var links []string
	for i := range 20 {
		link := fmt.Sprintf("https://www.canada.ca/en/services/taxes/page-%d.html", i)
		links = append(links, link)
		env.fetcher.add(link, fmt.Sprintf("Tax page %d", i), taxContent)
	}
	env.fetcher.add(seedURL, "Canada Revenue Agency", taxContent, links...)
	p := env.pipeline(t, WithPoolSize(4))

	report, err := p.Crawl(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 21, report.Stats.PagesCrawled)
	assert.Equal(t, 21, report.Stats.PagesStored)
	assert.Equal(t, uint64(21), env.count(t))
}

func TestCrawl_ResetsStatsBetweenRuns(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(seedURL, "Canada Revenue Agency", taxContent)
	p := env.pipeline(t)

	_, err := p.Crawl(context.Background(), "")
	require.NoError(t, err)
	report, err := p.Crawl(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.PagesCrawled)
	assert.Equal(t, 2, env.fetcher.callCount(seedURL), "the frontier forgets URLs between crawls")
}

func TestCrawl_Canceled(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(seedURL, "Canada Revenue Agency", taxContent)
	p := env.pipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Crawl(ctx, "")
	require.NoError(t, err)
	assert.True(t, report.Canceled)
	assert.Zero(t, report.Stats.PagesCrawled)
	require.NotNil(t, report.Collection, "the report is completed after cancellation")

	runs, err := env.runs.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestCrawl_InvalidStartURL(t *testing.T) {
	env := newTestEnv(t)
	p := env.pipeline(t)

	_, err := p.Crawl(context.Background(), "not a url")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestCrawl_UsesInjectedFrontier(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(seedURL, "Canada Revenue Agency", taxContent, formsURL)
	env.fetcher.add(formsURL, "Forms", taxContent)
	f := frontier.NewMemory()
	p := env.pipeline(t, WithFrontier(f))

	_, err := p.Crawl(context.Background(), "")
	require.NoError(t, err)

	n, err := f.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	added, err := f.Enqueue(context.Background(), formsURL)
	require.NoError(t, err)
	assert.Zero(t, added, "crawled URLs stay marked as seen until the next crawl")
}

func TestFilterLinks(t *testing.T) {
	env := newTestEnv(t)
	p := env.pipeline(t)

	links := []string{
		"https://www.canada.ca/en/a.html#top",
		"https://www.canada.ca/en/a.html",
		"https://example.com/tax",
		"mailto:tax@canada.ca",
		"https://www.canada.ca/en/b.html",
	}
	assert.Equal(t, []string{
		"https://www.canada.ca/en/a.html",
		"https://www.canada.ca/en/b.html",
	}, p.FilterLinks(links))

	many := make([]string, 150)
	for i := range many {
		many[i] = fmt.Sprintf("https://www.canada.ca/en/page-%d.html", i)
	}
	filtered := p.FilterLinks(many)
	assert.Len(t, filtered, MaxLinksPerPage)
	assert.Equal(t, many[:MaxLinksPerPage], filtered)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.add(seedURL, "Canada Revenue Agency", strings.Repeat("tax ", 800), formsURL, guideURL)
	env.fetcher.add(formsURL, "Weather Report", strings.Repeat("a", 150))

	metrics := NewMetrics(prometheus.NewRegistry())
	p := env.pipeline(t, WithMetrics(metrics))

	_, err := p.Crawl(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Pages.WithLabelValues(OutcomeCrawled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Pages.WithLabelValues(OutcomeStored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Pages.WithLabelValues(OutcomeValidationError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Pages.WithLabelValues(OutcomeExtractionSkipped)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Chunks))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.page(OutcomeCrawled)
		m.chunks(3)
		m.rateWait(time.Second)
	})
}
