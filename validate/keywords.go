package validate

import (
	"regexp"

	"github.com/poiesic/taxcrawl/core"
)

// KeywordBucket is a named group of domain keywords mapping to a page type.
type KeywordBucket struct {
	Type     core.PageType
	Keywords []string
}

// DefaultKeywordBuckets returns the buckets in classification priority order.
// General is listed last and is also the fallback type.
func DefaultKeywordBuckets() []KeywordBucket {
	return []KeywordBucket{
		{Type: core.PageTypeForms, Keywords: []string{"form", "t1", "t2", "t3", "t4", "t5"}},
		{Type: core.PageTypeBusiness, Keywords: []string{"business", "self-employed", "corporation", "gst", "hst"}},
		{Type: core.PageTypePersonal, Keywords: []string{"personal", "individual", "rrsp", "tfsa", "pension"}},
		{Type: core.PageTypeGeneral, Keywords: []string{"tax", "revenue", "cra", "income", "deduction", "credit"}},
	}
}

// typeRule pairs a page type with a whole-word matcher for its keywords.
type typeRule struct {
	pageType core.PageType
	pattern  *regexp.Regexp
}

// compileTypeRules builds whole-word matchers for every bucket except
// general, which never needs matching because it is the default.
func compileTypeRules(buckets []KeywordBucket) []typeRule {
	rules := make([]typeRule, 0, len(buckets))
	for _, bucket := range buckets {
		if bucket.Type == core.PageTypeGeneral || len(bucket.Keywords) == 0 {
			continue
		}
		alternatives := ""
		for i, kw := range bucket.Keywords {
			if i > 0 {
				alternatives += "|"
			}
			alternatives += regexp.QuoteMeta(kw)
		}
		rules = append(rules, typeRule{
			pageType: bucket.Type,
			pattern:  regexp.MustCompile(`\b(?:` + alternatives + `)\b`),
		})
	}
	return rules
}

// formPatterns are tried in order; the first pattern with any match wins.
var formPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bT[1-5][A-Z]?\b`),
	regexp.MustCompile(`(?i)\bT[1-5]\d{3}\b`),
	regexp.MustCompile(`(?i)\bRC\d+\b`),
	regexp.MustCompile(`(?i)\bNR\d+\b`),
}

var taxYearPattern = regexp.MustCompile(`\b(20[2-3][0-9])\b`)
