package fetch

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/taxcrawl/core"
)

const (
	defaultMinLength = 50
	defaultMaxLength = 10000
	noTitle          = "No title"
)

// contentSelectors are tried in order; the first whose text is longer than
// the minimum length wins. body is the fallback.
var contentSelectors = []string{
	"main",
	"[role=main]",
	".main-content",
	".content",
	"article",
	".article-content",
	"#content",
	"body",
}

// DefaultLinkPatterns are href substrings that mark a link as worth following.
func DefaultLinkPatterns() []string {
	return []string{"tax", "form", "business", "individual", "guide", "information", "/en/"}
}

// Extractor turns HTML into a Page.
type Extractor struct {
	minLength    int
	maxLength    int
	linkPatterns []string
	now          func() time.Time
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithTextBounds sets the minimum and maximum content length in characters.
// Content longer than max is truncated.
func WithTextBounds(min, max int) ExtractorOption {
	return func(e *Extractor) {
		e.minLength = min
		e.maxLength = max
	}
}

// WithLinkPatterns replaces the href substrings used to select links.
func WithLinkPatterns(patterns ...string) ExtractorOption {
	return func(e *Extractor) {
		e.linkPatterns = patterns
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		minLength:    defaultMinLength,
		maxLength:    defaultMaxLength,
		linkPatterns: DefaultLinkPatterns(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses the HTML of pageURL. Returns an error wrapping
// core.ErrExtraction when the page has too little text.
func (e *Extractor) Extract(pageURL string, body io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", core.ErrExtraction, err)
	}
	doc.Find("script, style, noscript").Remove()

	title := extractTitle(doc)
	content := e.extractContent(doc)
	if n := utf8.RuneCountInString(content); n < e.minLength {
		return nil, fmt.Errorf("%w: %s has %d characters of text", core.ErrExtraction, pageURL, n)
	}
	content = core.Truncate(content, e.maxLength)

	return &Page{
		Record: core.PageRecord{
			URL:         pageURL,
			Title:       title,
			Content:     content,
			ExtractedAt: e.now(),
		},
		Links: e.extractLinks(doc, pageURL),
	}, nil
}

// extractTitle prefers <title>, then the first h1.
func extractTitle(doc *goquery.Document) string {
	if title := core.NormalizeWhitespace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if h1 := core.NormalizeWhitespace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return noTitle
}

func (e *Extractor) extractContent(doc *goquery.Document) string {
	content := ""
	for _, selector := range contentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		content = core.NormalizeWhitespace(sel.Text())
		if utf8.RuneCountInString(content) > e.minLength {
			break
		}
	}
	return content
}

// extractLinks returns absolute http(s) links matching a link pattern, with
// fragments removed, in document order and without duplicates.
func (e *Extractor) extractLinks(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || !e.matchesPattern(href) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		abs.RawFragment = ""
		link := abs.String()
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

func (e *Extractor) matchesPattern(href string) bool {
	for _, pattern := range e.linkPatterns {
		if strings.Contains(href, pattern) {
			return true
		}
	}
	return false
}
