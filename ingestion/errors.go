package ingestion

import "errors"

var (
	// ErrFetcherRequired is returned when a fetcher is not provided.
	ErrFetcherRequired = errors.New("fetcher required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrStoreRequired is returned when a chunk store is not provided.
	ErrStoreRequired = errors.New("chunk store required")

	// ErrLimiterRequired is returned when a rate limiter is not provided.
	ErrLimiterRequired = errors.New("rate limiter required")

	// ErrCrawlInProgress is returned when Crawl is called while another
	// crawl on the same pipeline is running.
	ErrCrawlInProgress = errors.New("crawl already in progress")
)
