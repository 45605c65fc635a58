package validate

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/taxcrawl/core"
)

const (
	defaultMinContent = 50
	defaultMaxContent = 10000
	defaultMinTitle   = 1
	defaultMaxTitle   = 500
)

// Validator accepts or rejects extracted pages and classifies accepted ones.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	allowedDomains []string
	minContent     int
	maxContent     int
	minTitle       int
	maxTitle       int
	buckets        []KeywordBucket
	allKeywords    []string
	typeRules      []typeRule
}

// Option configures a Validator.
type Option func(*Validator)

// WithAllowedDomains sets the host suffixes pages must come from.
// Default is canada.ca.
func WithAllowedDomains(domains ...string) Option {
	return func(v *Validator) {
		if len(domains) == 0 {
			return
		}
		v.allowedDomains = make([]string, len(domains))
		for i, d := range domains {
			v.allowedDomains[i] = strings.ToLower(strings.TrimSpace(d))
		}
	}
}

// WithLengthBounds sets the accepted content length range in characters.
// Default is 50 to 10000.
func WithLengthBounds(min, max int) Option {
	return func(v *Validator) {
		v.minContent = min
		v.maxContent = max
	}
}

// WithTitleBounds sets the accepted title length range in characters.
// Default is 1 to 500.
func WithTitleBounds(min, max int) Option {
	return func(v *Validator) {
		v.minTitle = min
		v.maxTitle = max
	}
}

// WithKeywordBuckets replaces the keyword buckets. Order is classification
// priority.
func WithKeywordBuckets(buckets []KeywordBucket) Option {
	return func(v *Validator) {
		if len(buckets) > 0 {
			v.buckets = buckets
		}
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		allowedDomains: []string{"canada.ca"},
		minContent:     defaultMinContent,
		maxContent:     defaultMaxContent,
		minTitle:       defaultMinTitle,
		maxTitle:       defaultMaxTitle,
		buckets:        DefaultKeywordBuckets(),
	}
	for _, opt := range opts {
		opt(v)
	}

	for _, bucket := range v.buckets {
		for _, kw := range bucket.Keywords {
			v.allKeywords = append(v.allKeywords, strings.ToLower(kw))
		}
	}
	v.typeRules = compileTypeRules(v.buckets)
	return v
}

// Validate checks a page record and returns it enriched with page type, tax
// year and form number. Rejections wrap core.ErrValidation.
func (v *Validator) Validate(record core.PageRecord) (*core.ValidatedRecord, error) {
	title := core.NormalizeWhitespace(record.Title)
	content := core.NormalizeWhitespace(record.Content)

	if n := utf8.RuneCountInString(title); n < v.minTitle || n > v.maxTitle {
		return nil, fmt.Errorf("%w: %w: title length %d not in [%d, %d]",
			core.ErrValidation, core.ErrFieldBounds, n, v.minTitle, v.maxTitle)
	}
	if n := utf8.RuneCountInString(content); n < v.minContent || n > v.maxContent {
		return nil, fmt.Errorf("%w: %w: content length %d not in [%d, %d]",
			core.ErrValidation, core.ErrFieldBounds, n, v.minContent, v.maxContent)
	}

	host, err := parseHost(record.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %q", core.ErrValidation, core.ErrMalformedURL, record.URL)
	}
	if !v.hostAllowed(host) {
		return nil, fmt.Errorf("%w: %w: %s", core.ErrValidation, core.ErrDomainNotAllowed, record.URL)
	}

	if !v.IsRelevantContent(title, content) {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, core.ErrNotRelevant)
	}

	return &core.ValidatedRecord{
		PageRecord: core.PageRecord{
			URL:         record.URL,
			Title:       title,
			Content:     content,
			ExtractedAt: record.ExtractedAt,
		},
		PageType:   v.DeterminePageType(title, content),
		TaxYear:    ExtractTaxYear(content),
		FormNumber: ExtractFormNumber(content),
	}, nil
}

// ValidateURL reports whether the URL's host ends with an allowed domain.
func (v *Validator) ValidateURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return v.hostAllowed(strings.ToLower(u.Host))
}

func (v *Validator) hostAllowed(host string) bool {
	if host == "" {
		return false
	}
	for _, domain := range v.allowedDomains {
		if strings.HasSuffix(host, domain) {
			return true
		}
	}
	return false
}

// IsRelevantContent reports whether any keyword from any bucket occurs as a
// substring of the lower-cased title or content. It is looser
// than the whole-word matching of DeterminePageType.
func (v *Validator) IsRelevantContent(title, content string) bool {
	titleLower := strings.ToLower(title)
	contentLower := strings.ToLower(content)
	for _, kw := range v.allKeywords {
		if strings.Contains(titleLower, kw) || strings.Contains(contentLower, kw) {
			return true
		}
	}
	return false
}

// DeterminePageType returns the first bucket, in priority order, with a
// whole-word keyword hit in the title or content. Defaults to general.
func (v *Validator) DeterminePageType(title, content string) core.PageType {
	combined := strings.ToLower(title) + " " + strings.ToLower(content)
	for _, rule := range v.typeRules {
		if rule.pattern.MatchString(combined) {
			return rule.pageType
		}
	}
	return core.PageTypeGeneral
}

// ExtractTaxYear returns the latest year between 2020 and 2039 mentioned in
// the content, or "" if there is none.
func ExtractTaxYear(content string) string {
	matches := taxYearPattern.FindAllString(content, -1)
	if len(matches) == 0 {
		return ""
	}
	return slices.Max(matches)
}

// ExtractFormNumber returns the first CRA form number found, upper-cased, or
// "" if there is none. Patterns are tried in a fixed order and the first
// pattern that matches anywhere wins.
func ExtractFormNumber(content string) string {
	for _, pattern := range formPatterns {
		if match := pattern.FindString(content); match != "" {
			return strings.ToUpper(match)
		}
	}
	return ""
}

// Description summarizes the validator's configuration.
type Description struct {
	AllowedDomains     []string `json:"allowed_domains"`
	KeywordCategories  []string `json:"tax_keyword_categories"`
	ContentLengthRange [2]int   `json:"content_length_range"`
}

// Describe returns the allowed domains and keyword categories.
func (v *Validator) Describe() Description {
	categories := make([]string, len(v.buckets))
	for i, bucket := range v.buckets {
		categories[i] = string(bucket.Type)
	}
	return Description{
		AllowedDomains:     slices.Clone(v.allowedDomains),
		KeywordCategories:  categories,
		ContentLengthRange: [2]int{v.minContent, v.maxContent},
	}
}

// parseHost returns the lower-cased host of an absolute http(s) URL.
func parseHost(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("not an absolute http(s) url")
	}
	return strings.ToLower(u.Hostname()), nil
}
