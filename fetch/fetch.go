package fetch

import (
	"context"
	"errors"

	"github.com/poiesic/taxcrawl/core"
)

// DefaultUserAgent identifies the crawler to the target site.
const DefaultUserAgent = "taxcrawl/1.0 (+https://github.com/poiesic/taxcrawl)"

// ErrStatus is returned for a non-2xx response. It is worth retrying.
var ErrStatus = errors.New("unexpected http status")

// Page is a fetched page and the candidate links found on it.
type Page struct {
	Record core.PageRecord
	Links  []string
}

// Fetcher retrieves one page.
// Implementations must be safe for concurrent use.
type Fetcher interface {
	// Fetch retrieves and extracts url. An error wrapping core.ErrExtraction
	// means the page has no usable content and retrying will not help.
	Fetch(ctx context.Context, url string) (*Page, error)

	// Close releases resources.
	Close() error
}
