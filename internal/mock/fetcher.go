package mock

import (
	"context"

	"jobsite-crawler/internal/fetcher"
)

var _ fetcher.PageFetcher = (*Fetcher)(nil)

// Fetcher is a mock implementation of fetcher.PageFetcher.
type Fetcher struct {
	FetchFn func(ctx context.Context, url string) (string, error)
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	return f.FetchFn(ctx, url)
}
