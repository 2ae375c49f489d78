// Package source defines how the sync engine talks to a remote calendar.
// Concrete fetchers live in the gcal and ics subpackages.
package source

import (
	"context"
	"errors"

	"calmirror/internal/model"
)

var ErrNoSource = errors.New("source: no remote source configured")

// Request carries the cursor state from the cache into a fetch.
type Request struct {
	// ETag of the cached set, sent as If-None-Match when non-empty.
	ETag string
	// SyncToken asks for changes since a previous sync when non-empty.
	SyncToken string
	// Full asks the source to ignore any cursor and list everything.
	Full bool
}

// Fetcher retrieves events from a remote calendar. Retry and backoff, if
// any, belong to the fetcher's transport.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*model.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) (*model.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (*model.Response, error) {
	return f(ctx, req)
}
