package scraper

import (
	"context"
	"errors"
	"time"

	"jobsite-crawler/internal/fetcher"
	"jobsite-crawler/internal/observability"
)

// StopReason: почему пагинация остановилась.
type StopReason string

const (
	StopSinglePage StopReason = "single_page"
	StopMaxPages   StopReason = "max_pages"
	StopEmptyPage  StopReason = "empty_page"
	StopPageError  StopReason = "page_error"
	StopCancelled  StopReason = "cancelled"
)

// Result: итог пагинации одного сайта. Ошибки страниц не теряются,
// даже если записи с предыдущих страниц собраны.
type Result struct {
	Records    []RawListing
	Errors     []PageError
	Pages      int // сколько страниц реально запрошено
	StopReason StopReason
}

type driverState int

const (
	stateStart driverState = iota
	stateFetching
	stateHasMore
	stateError
	stateDone
)

// Driver последовательно обходит страницы сайта: следующая страница
// зависит от результата предыдущей.
type Driver struct {
	fetcher         fetcher.PageFetcher
	maxPagesPerSite int
	logger          *observability.Logger
	metrics         *observability.Metrics
	now             func() time.Time
}

func NewDriver(f fetcher.PageFetcher, maxPagesPerSite int, logger *observability.Logger, metrics *observability.Metrics) *Driver {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Driver{
		fetcher:         f,
		maxPagesPerSite: maxPagesPerSite,
		logger:          logger,
		metrics:         metrics,
		now:             time.Now,
	}
}

// MaxPages возвращает потолок страниц для профиля: свой max_pages, но не выше глобального.
func (d *Driver) MaxPages(profile SiteProfile) int {
	limit := d.maxPagesPerSite
	if p := profile.Pagination.MaxPages; p > 0 && (limit <= 0 || p < limit) {
		limit = p
	}
	if limit <= 0 {
		limit = 1
	}
	return limit
}

func (d *Driver) Run(ctx context.Context, profile SiteProfile) Result {
	var (
		res       Result
		state     = stateStart
		page      int
		pageURL   string
		pageErr   error
		maxPages  = d.MaxPages(profile)
		extractor = NewExtractor(profile)
		log       = d.logger.With("site", profile.Name)
	)

	for {
		switch state {
		case stateStart:
			page = 1
			pageURL = profile.PageURL(page)
			log.Info("Starting pagination",
				"url", pageURL,
				"pagination", profile.Pagination.Enabled,
				"max_pages", maxPages,
			)
			state = stateFetching

		case stateFetching:
			if ctx.Err() != nil {
				res.StopReason = StopCancelled
				state = stateDone
				continue
			}

			log.Info("Processing page", "page", page, "url", pageURL)

			body, err := d.fetcher.Fetch(ctx, pageURL)
			if err != nil {
				var fe *fetcher.FetchError
				if !errors.As(err, &fe) && ctx.Err() != nil {
					// отменили во время ожидания очереди, запроса не было
					res.StopReason = StopCancelled
					state = stateDone
					continue
				}
				res.Pages++
				pageErr = err
				state = stateError
				continue
			}
			res.Pages++

			records, err := extractor.Extract(body, pageURL)
			if err != nil {
				pageErr = err
				state = stateError
				continue
			}

			scrapedAt := d.now().UTC()
			for i := range records {
				records[i].ScrapedAt = scrapedAt
			}
			res.Records = append(res.Records, records...)

			if len(records) == 0 {
				d.metrics.IncPage(profile.Name, "empty")
			} else {
				d.metrics.IncPage(profile.Name, "ok")
			}
			log.Info("Page analysis", "page", page, "records", len(records))

			// max-pages проверяется первым
			switch {
			case !profile.Pagination.Enabled:
				res.StopReason = StopSinglePage
				state = stateDone
			case page >= maxPages:
				res.StopReason = StopMaxPages
				state = stateDone
			case len(records) == 0:
				res.StopReason = StopEmptyPage
				state = stateDone
			default:
				state = stateHasMore
			}

		case stateHasMore:
			page++
			pageURL = profile.PageURL(page)
			state = stateFetching

		case stateError:
			d.metrics.IncPage(profile.Name, "error")
			log.Error("Page failed", "page", page, "url", pageURL, "error", pageErr.Error())
			res.Errors = append(res.Errors, PageError{Page: page, URL: pageURL, Err: pageErr})
			res.StopReason = StopPageError
			state = stateDone

		case stateDone:
			log.Info("Pagination finished",
				"pages", res.Pages,
				"records", len(res.Records),
				"page_errors", len(res.Errors),
				"stopped_reason", string(res.StopReason),
			)
			return res
		}
	}
}
