package search

import (
	"strings"
	"unicode"
)

// stopWords are ignored when checking whether a chunk contains every query
// word. Question words are included because queries are often phrased as
// questions ("how do I claim ...").
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {},
	"i": {}, "if": {}, "in": {}, "is": {}, "it": {}, "my": {}, "of": {},
	"on": {}, "or": {}, "the": {}, "to": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "with": {}, "you": {}, "your": {},
}

// queryTerms lower-cases text and splits it on anything that is not a letter
// or digit, so "GST/HST" yields gst and hst. Stop words are dropped.
func queryTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; !stop {
			terms = append(terms, f)
		}
	}
	return terms
}

// containsAllQueryWords reports whether every non-stop query term occurs as
// a term of the chunk text. A query made only of stop words never matches.
func containsAllQueryWords(chunkText, query string) bool {
	want := queryTerms(query)
	if len(want) == 0 {
		return false
	}

	have := make(map[string]struct{})
	for _, term := range queryTerms(chunkText) {
		have[term] = struct{}{}
	}
	for _, term := range want {
		if _, ok := have[term]; !ok {
			return false
		}
	}
	return true
}
