package fetch

import (
	"strings"
	"testing"

	"github.com/poiesic/taxcrawl/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageURL = "https://www.canada.ca/en/revenue-agency.html"

var longText = strings.Repeat("Income tax information for individuals. ", 5)

func TestExtract_TitleAndMainContent(t *testing.T) {
	html := `<html><head><title> Canada Revenue
		Agency </title><script>var tax = 1;</script></head>
		<body><nav>Menu</nav><main>` + longText + `</main><footer>Footer</footer></body></html>`

	page, err := NewExtractor().Extract(pageURL, strings.NewReader(html))
	require.NoError(t, err)

	assert.Equal(t, pageURL, page.Record.URL)
	assert.Equal(t, "Canada Revenue Agency", page.Record.Title)
	assert.Equal(t, strings.TrimSpace(longText), page.Record.Content)
	assert.False(t, page.Record.ExtractedAt.IsZero())
}

func TestExtract_TitleFallbacks(t *testing.T) {
	body := `<body><main>` + longText + `</main></body>`

	page, err := NewExtractor().Extract(pageURL, strings.NewReader(`<html><body><h1>Heading</h1>`+body[6:]))
	require.NoError(t, err)
	assert.Equal(t, "Heading", page.Record.Title)

	page, err = NewExtractor().Extract(pageURL, strings.NewReader(`<html>`+body+`</html>`))
	require.NoError(t, err)
	assert.Equal(t, "No title", page.Record.Title)
}

func TestExtract_SelectorOrder(t *testing.T) {
	// main is too short, so the next selector with enough text wins.
	html := `<html><head><title>T</title></head><body>
		<main>short</main>
		<div class="content">` + longText + `</div>
		<article>Other article text that is not picked.</article>
	</body></html>`

	page, err := NewExtractor().Extract(pageURL, strings.NewReader(html))
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(longText), page.Record.Content)
}

func TestExtract_FallsBackToBody(t *testing.T) {
	html := `<html><head><title>T</title></head><body><p>` + longText + `</p><noscript>enable js</noscript></body></html>`

	page, err := NewExtractor().Extract(pageURL, strings.NewReader(html))
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(longText), page.Record.Content)
}

func TestExtract_TooLittleText(t *testing.T) {
	html := `<html><head><title>T</title></head><body><main>Too short</main></body></html>`

	_, err := NewExtractor().Extract(pageURL, strings.NewReader(html))
	assert.ErrorIs(t, err, core.ErrExtraction)
}

func TestExtract_TruncatesLongContent(t *testing.T) {
	html := `<html><head><title>T</title></head><body><main>` + strings.Repeat("a", 500) + `</main></body></html>`

	page, err := NewExtractor(WithTextBounds(10, 100)).Extract(pageURL, strings.NewReader(html))
	require.NoError(t, err)
	assert.Len(t, page.Record.Content, 100)
	assert.True(t, strings.HasSuffix(page.Record.Content, "..."))
}

func TestExtract_Links(t *testing.T) {
	html := `<html><head><title>T</title></head><body><main>` + longText + `
		<a href="/en/services/taxes.html#top">Taxes</a>
		<a href="/en/services/taxes.html">Taxes again</a>
		<a href="forms/t1.html">Relative form</a>
		<a href="https://www.canada.ca/fr/impots.html">French page</a>
		<a href="mailto:tax@canada.ca">Mail</a>
		<a href="https://example.com/business">Other site</a>
		<a href="">Empty</a>
	</main></body></html>`

	page, err := NewExtractor().Extract(pageURL, strings.NewReader(html))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://www.canada.ca/en/services/taxes.html",
		"https://www.canada.ca/en/forms/t1.html",
		"https://example.com/business",
	}, page.Links, "domain filtering is left to the caller")
}

func TestExtract_CustomLinkPatterns(t *testing.T) {
	html := `<html><head><title>T</title></head><body><main>` + longText + `
		<a href="/en/taxes.html">Taxes</a>
		<a href="/en/guides/rrsp.html">RRSP</a>
	</main></body></html>`

	page, err := NewExtractor(WithLinkPatterns("rrsp")).Extract(pageURL, strings.NewReader(html))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.canada.ca/en/guides/rrsp.html"}, page.Links)
}
