package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"jobsite-crawler/internal/fetcher"
	"jobsite-crawler/internal/normalize"
)

// SiteScraper: всё, что менеджер умеет делать с одним сайтом.
// Ошибки отдельных страниц возвращаются в Result и не прерывают обход.
type SiteScraper interface {
	ScrapeListings(ctx context.Context) Result
	FetchDescription(ctx context.Context, descriptionURL string) (string, error)
}

var (
	_ SiteScraper = (*ProfileScraper)(nil)
	_ SiteScraper = (*HopScraper)(nil)
)

// ProfileScraper целиком управляется профилем: новому сайту нужен только YAML.
type ProfileScraper struct {
	profile SiteProfile
	fetcher fetcher.PageFetcher
	driver  *Driver
}

func NewProfileScraper(profile SiteProfile, f fetcher.PageFetcher, driver *Driver) *ProfileScraper {
	return &ProfileScraper{profile: profile, fetcher: f, driver: driver}
}

// NewSiteScraper выбирает реализацию по профилю.
func NewSiteScraper(profile SiteProfile, f fetcher.PageFetcher, driver *Driver) SiteScraper {
	base := NewProfileScraper(profile, f, driver)
	if profile.Selectors.DescriptionHop != "" {
		return &HopScraper{ProfileScraper: base}
	}
	return base
}

func (s *ProfileScraper) Profile() SiteProfile { return s.profile }

func (s *ProfileScraper) ScrapeListings(ctx context.Context) Result {
	return s.driver.Run(ctx, s.profile)
}

func (s *ProfileScraper) FetchDescription(ctx context.Context, descriptionURL string) (string, error) {
	body, err := s.fetcher.Fetch(ctx, descriptionURL)
	if err != nil {
		return "", err
	}
	return normalize.Description(body, s.profile.Selectors.DescriptionBody), nil
}

// HopScraper: для сайтов, где описание лежит на странице за промежуточной:
// сначала открываем ссылку из листинга, затем переходим по description_hop.
type HopScraper struct {
	*ProfileScraper
}

func (s *HopScraper) FetchDescription(ctx context.Context, descriptionURL string) (string, error) {
	body, err := s.fetcher.Fetch(ctx, descriptionURL)
	if err != nil {
		return "", err
	}

	next, err := hopLink(body, descriptionURL, s.profile.Selectors.DescriptionHop)
	if err != nil {
		return "", &ExtractionError{URL: descriptionURL, Err: err}
	}
	if next == "" || next == descriptionURL {
		// перехода нет, описание на этой же странице
		return normalize.Description(body, s.profile.Selectors.DescriptionBody), nil
	}

	detail, err := s.fetcher.Fetch(ctx, next)
	if err != nil {
		return "", err
	}
	return normalize.Description(detail, s.profile.Selectors.DescriptionBody), nil
}

func hopLink(markup, pageURL, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page URL: %w", err)
	}
	return firstLink(doc.Selection, selector, base), nil
}
