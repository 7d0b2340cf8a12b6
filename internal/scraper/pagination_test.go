package scraper_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobsite-crawler/internal/fetcher"
	"jobsite-crawler/internal/mock"
	"jobsite-crawler/internal/scraper"
)

// jobsPage собирает страницу с n контейнерами.
func jobsPage(page, n int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<div class="job"><h2 class="title">Job %d-%d</h2><span class="company">Co</span><a class="more" href="/jobs/%d-%d">x</a></div>`, page, i, page, i)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// pagedFetcher отдаёт страницы по URL и запоминает порядок запросов.
type pagedFetcher struct {
	mu    sync.Mutex
	calls []string
	pages map[string]string
	errs  map[string]error
}

func newPagedFetcher() *pagedFetcher {
	return &pagedFetcher{pages: map[string]string{}, errs: map[string]error{}}
}

func (p *pagedFetcher) mock() *mock.Fetcher {
	return &mock.Fetcher{FetchFn: func(ctx context.Context, url string) (string, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.calls = append(p.calls, url)
		if err, ok := p.errs[url]; ok {
			return "", err
		}
		if body, ok := p.pages[url]; ok {
			return body, nil
		}
		return "", &fetcher.FetchError{URL: url, StatusCode: 404}
	}}
}

func (p *pagedFetcher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

const pagePattern = "https://jobs.example.com/jobs/page/%d/"

func TestDriverStopsOnEmptyPage(t *testing.T) {
	// TestSite: max 2 страницы, на первой 3 вакансии, вторая пустая
	pf := newPagedFetcher()
	pf.pages[fmt.Sprintf(pagePattern, 1)] = jobsPage(1, 3)
	pf.pages[fmt.Sprintf(pagePattern, 2)] = jobsPage(2, 0)

	d := scraper.NewDriver(pf.mock(), 10, nil, nil)
	res := d.Run(context.Background(), testProfile())

	assert.Equal(t, 2, pf.count())
	assert.Equal(t, 2, res.Pages)
	assert.Len(t, res.Records, 3)
	assert.Empty(t, res.Errors)
	// max-pages проверяется раньше пустой страницы
	assert.Equal(t, scraper.StopMaxPages, res.StopReason)
}

func TestDriverEmptyPageBeforeCap(t *testing.T) {
	pf := newPagedFetcher()
	pf.pages[fmt.Sprintf(pagePattern, 1)] = jobsPage(1, 2)
	pf.pages[fmt.Sprintf(pagePattern, 2)] = jobsPage(2, 2)
	pf.pages[fmt.Sprintf(pagePattern, 3)] = jobsPage(3, 0)

	p := testProfile()
	p.Pagination.MaxPages = 5

	res := scraper.NewDriver(pf.mock(), 10, nil, nil).Run(context.Background(), p)

	assert.Equal(t, 3, pf.count())
	assert.Len(t, res.Records, 4)
	assert.Equal(t, scraper.StopEmptyPage, res.StopReason)
}

func TestDriverPaginationDisabledFetchesOnce(t *testing.T) {
	p := testProfile()
	p.Pagination.Enabled = false

	pf := newPagedFetcher()
	pf.pages[p.ListingURL] = jobsPage(1, 4)

	res := scraper.NewDriver(pf.mock(), 10, nil, nil).Run(context.Background(), p)

	assert.Equal(t, []string{p.ListingURL}, pf.calls)
	assert.Len(t, res.Records, 4)
	assert.Equal(t, scraper.StopSinglePage, res.StopReason)
}

func TestDriverRespectsMaxPages(t *testing.T) {
	tests := []struct {
		name        string
		profileMax  int
		globalMax   int
		wantFetches int
	}{
		{name: "profile cap", profileMax: 3, globalMax: 10, wantFetches: 3},
		{name: "global cap wins", profileMax: 8, globalMax: 4, wantFetches: 4},
		{name: "profile unset uses global", profileMax: 0, globalMax: 2, wantFetches: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf := newPagedFetcher()
			for i := 1; i <= 20; i++ {
				pf.pages[fmt.Sprintf(pagePattern, i)] = jobsPage(i, 1)
			}
			p := testProfile()
			p.Pagination.MaxPages = tt.profileMax

			res := scraper.NewDriver(pf.mock(), tt.globalMax, nil, nil).Run(context.Background(), p)

			assert.Equal(t, tt.wantFetches, pf.count())
			assert.Len(t, res.Records, tt.wantFetches)
			assert.Equal(t, scraper.StopMaxPages, res.StopReason)
		})
	}
}

func TestDriverPageErrorKeepsEarlierRecords(t *testing.T) {
	// таймаут на второй странице из трёх
	pf := newPagedFetcher()
	p2 := fmt.Sprintf(pagePattern, 2)
	pf.pages[fmt.Sprintf(pagePattern, 1)] = jobsPage(1, 3)
	pf.errs[p2] = &fetcher.FetchError{URL: p2, Err: context.DeadlineExceeded}
	pf.pages[fmt.Sprintf(pagePattern, 3)] = jobsPage(3, 3)

	p := testProfile()
	p.Pagination.MaxPages = 3

	res := scraper.NewDriver(pf.mock(), 10, nil, nil).Run(context.Background(), p)

	assert.Equal(t, 2, pf.count())
	assert.NotContains(t, pf.calls, fmt.Sprintf(pagePattern, 3))
	assert.Len(t, res.Records, 3)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Page)
	assert.Equal(t, p2, res.Errors[0].URL)

	var fe *fetcher.FetchError
	require.ErrorAs(t, res.Errors[0], &fe)
	assert.True(t, fe.Timeout())
	assert.Equal(t, scraper.StopPageError, res.StopReason)
}

func TestDriverFirstPageFailure(t *testing.T) {
	pf := newPagedFetcher()

	res := scraper.NewDriver(pf.mock(), 10, nil, nil).Run(context.Background(), testProfile())

	assert.Equal(t, 1, pf.count())
	assert.Empty(t, res.Records)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Page)
}

func TestDriverCancelledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	f := &mock.Fetcher{FetchFn: func(_ context.Context, url string) (string, error) {
		calls++
		// отмена во время запроса: текущая страница дорабатывает
		cancel()
		return jobsPage(calls, 2), nil
	}}

	p := testProfile()
	p.Pagination.MaxPages = 5

	res := scraper.NewDriver(f, 10, nil, nil).Run(ctx, p)

	assert.Equal(t, 1, calls)
	assert.Len(t, res.Records, 2)
	assert.Empty(t, res.Errors)
	assert.Equal(t, scraper.StopCancelled, res.StopReason)
}

func TestDriverCancelledDuringThrottleWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &mock.Fetcher{FetchFn: func(ctx context.Context, url string) (string, error) {
		return "", fmt.Errorf("throttle wait: %w", ctx.Err())
	}}

	res := scraper.NewDriver(f, 10, nil, nil).Run(ctx, testProfile())

	assert.Zero(t, res.Pages)
	assert.Empty(t, res.Errors)
	assert.Equal(t, scraper.StopCancelled, res.StopReason)
}

func TestDriverRecordsFailureWhenCancelledDuringRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var requests int
	inner := &mock.Fetcher{FetchFn: func(_ context.Context, url string) (string, error) {
		requests++
		time.AfterFunc(20*time.Millisecond, cancel)
		return "", &fetcher.FetchError{URL: url, StatusCode: 503}
	}}
	f := fetcher.WithRetry(inner, fetcher.BackoffPolicy{MaxRetries: 3, Min: time.Second, Max: 4 * time.Second}, nil)

	res := scraper.NewDriver(f, 10, nil, nil).Run(ctx, testProfile())

	assert.Equal(t, 1, requests)
	assert.Equal(t, 1, res.Pages)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Page)

	var fe *fetcher.FetchError
	require.ErrorAs(t, res.Errors[0], &fe)
	assert.Equal(t, 503, fe.StatusCode)
	assert.Equal(t, scraper.StopPageError, res.StopReason)
}

func TestDriverStampsScrapedAt(t *testing.T) {
	pf := newPagedFetcher()
	pf.pages[fmt.Sprintf(pagePattern, 1)] = jobsPage(1, 1)

	p := testProfile()
	p.Pagination.MaxPages = 1

	res := scraper.NewDriver(pf.mock(), 10, nil, nil).Run(context.Background(), p)
	require.Len(t, res.Records, 1)
	assert.False(t, res.Records[0].ScrapedAt.IsZero())
}
