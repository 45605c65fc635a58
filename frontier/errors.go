package frontier

import "errors"

var (
	// ErrEmpty is returned by Next when no URL is queued.
	ErrEmpty = errors.New("frontier is empty")

	// ErrClosed is returned when using a closed frontier.
	ErrClosed = errors.New("frontier is closed")
)
