package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/poiesic/taxcrawl/core"
)

const (
	// DefaultTimeout bounds one request.
	DefaultTimeout = 30 * time.Second

	maxBodyBytes = 10 << 20
)

// Option configures a fetcher.
type Option func(*options)

type options struct {
	userAgent string
	timeout   time.Duration
	extractor *Extractor
	client    *http.Client
	logger    *slog.Logger
}

func defaultOptions() options {
	return options{
		userAgent: DefaultUserAgent,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// WithTimeout bounds a single page load.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithExtractor sets the HTML extractor. Default is NewExtractor().
func WithExtractor(e *Extractor) Option {
	return func(o *options) {
		o.extractor = e
	}
}

// WithHTTPClient replaces the HTTP client used by HTTPFetcher.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// HTTPFetcher fetches pages with plain GET requests.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	extractor *Extractor
	logger    *slog.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: o.timeout}
	}
	if o.extractor == nil {
		o.extractor = NewExtractor()
	}
	return &HTTPFetcher{
		client:    o.client,
		userAgent: o.userAgent,
		extractor: o.extractor,
		logger:    o.logger.With("component", "http-fetcher"),
	}
}

// Fetch retrieves url. Non-2xx responses return ErrStatus. Responses that
// are not HTML return core.ErrExtraction.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", core.ErrExtraction, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrStatus, url, resp.StatusCode)
	}
	if !isHTML(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("%w: %s is %s", core.ErrExtraction, url, resp.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	f.logger.Debug("fetched page", "url", url, "bytes", len(body))
	return f.extractor.Extract(resp.Request.URL.String(), bytes.NewReader(body))
}

// Close releases idle connections.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// isHTML reports whether a Content-Type header names an HTML document.
// A missing header is treated as HTML.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
