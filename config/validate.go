package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/poiesic/taxcrawl/core"
)

// Validate reports every problem found, joined, each wrapping
// core.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{core.ErrConfiguration}, args...)...))
	}

	if u, err := url.Parse(c.BaseURL); err != nil || u.Host == "" {
		fail("base_url %q is not an absolute url", c.BaseURL)
	}
	if len(c.AllowedDomains) == 0 {
		fail("allowed_domains must not be empty")
	}
	if c.MinTextLength < 1 || c.MaxTextLength < c.MinTextLength {
		fail("text length bounds [%d, %d] are invalid", c.MinTextLength, c.MaxTextLength)
	}
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		fail("unknown log_level %q", c.LogLevel)
	}

	l := c.Limits
	if l.MaxRequestsPerMinute < 1 || l.MaxRequestsPerHour < 1 || l.MaxRequestsPerDay < 1 {
		fail("request limits must be positive")
	}
	if l.RequestDelay < 0 || l.RetryDelay < 0 {
		fail("delays must not be negative")
	}
	if l.MaxConcurrentRequests < 1 {
		fail("limits.max_concurrent_requests must be positive, got %d", l.MaxConcurrentRequests)
	}
	if l.MaxRetries < 1 {
		fail("limits.max_retries must be positive, got %d", l.MaxRetries)
	}
	if l.MaxPages < 0 {
		fail("limits.max_pages must not be negative, got %d", l.MaxPages)
	}

	if err := c.ChunkingConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Embedding.Host == "" {
		fail("embedding.host is required")
	}
	if c.Embedding.Model == "" {
		fail("embedding.model is required")
	}
	if c.Embedding.VectorSize < 1 {
		fail("embedding.vector_size must be positive, got %d", c.Embedding.VectorSize)
	}

	if c.Store.ScoreThreshold < -1 || c.Store.ScoreThreshold > 1 {
		fail("store.score_threshold %v not in [-1, 1]", c.Store.ScoreThreshold)
	}
	if c.Qdrant.CollectionName == "" {
		fail("qdrant.collection_name is required")
	}
	switch c.Store.Backend {
	case BackendBadger:
	case BackendQdrant:
		if c.Qdrant.Endpoint == "" {
			fail("qdrant.endpoint is required for the qdrant backend")
		}
		if c.Qdrant.APIKey == "" {
			fail("qdrant.api_key is required for the qdrant backend")
		}
		if c.Qdrant.VectorSize != c.Embedding.VectorSize {
			fail("qdrant.vector_size %d does not match embedding.vector_size %d",
				c.Qdrant.VectorSize, c.Embedding.VectorSize)
		}
	default:
		fail("unknown store.backend %q", c.Store.Backend)
	}

	switch c.Fetch.Driver {
	case FetchHTTP, FetchBrowser:
	default:
		fail("unknown fetch.driver %q", c.Fetch.Driver)
	}
	if c.Fetch.Timeout <= 0 {
		fail("fetch.timeout must be positive")
	}

	switch c.Frontier.Driver {
	case FrontierMemory:
	case FrontierRedis:
		if c.Frontier.RedisAddr == "" {
			fail("frontier.redis_addr is required for the redis frontier")
		}
	default:
		fail("unknown frontier.driver %q", c.Frontier.Driver)
	}

	return errors.Join(errs...)
}
