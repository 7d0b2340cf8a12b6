package mock

import (
	"context"

	"jobsite-crawler/internal/scraper"
)

var _ scraper.SiteScraper = (*SiteScraper)(nil)

// SiteScraper is a mock implementation of scraper.SiteScraper.
type SiteScraper struct {
	ScrapeListingsFn   func(ctx context.Context) scraper.Result
	FetchDescriptionFn func(ctx context.Context, url string) (string, error)
}

func (s *SiteScraper) ScrapeListings(ctx context.Context) scraper.Result {
	return s.ScrapeListingsFn(ctx)
}

func (s *SiteScraper) FetchDescription(ctx context.Context, url string) (string, error) {
	return s.FetchDescriptionFn(ctx, url)
}
