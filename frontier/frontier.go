// Package frontier holds the queue of URLs waiting to be crawled.
//
// A Frontier is FIFO and remembers every URL it has accepted since the last
// Reset, so a page discovered twice in one run is only queued once.
package frontier

import (
	"context"
	"strconv"

	"github.com/poiesic/taxcrawl/core"
)

// Frontier is a deduplicating FIFO of URLs.
// Implementations must be thread-safe.
type Frontier interface {
	// Enqueue appends URLs not seen since the last Reset and returns how
	// many were added. Empty strings are ignored.
	Enqueue(ctx context.Context, urls ...string) (int, error)

	// Next removes and returns the oldest queued URL.
	// Returns ErrEmpty when nothing is queued.
	Next(ctx context.Context) (string, error)

	// Len returns the number of queued URLs.
	Len(ctx context.Context) (int, error)

	// Reset empties the queue and forgets every seen URL.
	Reset(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// seenKey is the dedup key for a URL.
func seenKey(url string) string {
	return strconv.FormatUint(core.Fingerprint(url), 16)
}
