package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/chromedp"
)

// BrowserFetcher renders pages in headless Chrome before extraction, for
// pages that build their content with JavaScript.
type BrowserFetcher struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	opts        options
	extractor   *Extractor
	logger      *slog.Logger
}

var _ Fetcher = (*BrowserFetcher)(nil)

// NewBrowserFetcher starts a Chrome allocator. Every Fetch opens a new tab in
// it. The browser process is launched lazily by the first Fetch.
func NewBrowserFetcher(opts ...Option) *BrowserFetcher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.extractor == nil {
		o.extractor = NewExtractor()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(o.userAgent),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	return &BrowserFetcher{
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
		opts:        o,
		extractor:   o.extractor,
		logger:      o.logger.With("component", "browser-fetcher"),
	}
}

// Fetch navigates to url, waits for the body and extracts the rendered HTML.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(f.allocCtx, chromedp.WithLogf(f.logf))
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.opts.timeout)
	defer cancelTimeout()

	// Stop the tab when the caller gives up.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html, location string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("render %s: %w", url, err)
	}
	if location == "" {
		location = url
	}

	f.logger.Debug("rendered page", "url", location, "bytes", len(html))
	return f.extractor.Extract(location, strings.NewReader(html))
}

// Close shuts down the browser.
func (f *BrowserFetcher) Close() error {
	f.cancelAlloc()
	return nil
}

func (f *BrowserFetcher) logf(format string, args ...any) {
	f.logger.Debug(fmt.Sprintf(format, args...))
}
