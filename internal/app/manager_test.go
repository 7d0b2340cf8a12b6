package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobsite-crawler/internal/app"
	"jobsite-crawler/internal/config"
	"jobsite-crawler/internal/fetcher"
	"jobsite-crawler/internal/mock"
	"jobsite-crawler/internal/scraper"
	"jobsite-crawler/internal/storage"
	"jobsite-crawler/internal/storage/memory"
)

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func profile(name string) scraper.SiteProfile {
	return scraper.SiteProfile{
		Name:       name,
		Enabled:    true,
		BaseURL:    "https://" + name + ".example.com",
		ListingURL: "https://" + name + ".example.com/jobs",
		Selectors:  scraper.Selectors{Container: "div.job"},
	}
}

func testConfig(sites ...scraper.SiteProfile) *config.Config {
	cfg := config.Default()
	cfg.Sites = sites
	cfg.SiteErrors = map[int]error{}
	return &cfg
}

func records(site string, urls ...string) []scraper.RawListing {
	out := make([]scraper.RawListing, 0, len(urls))
	for _, u := range urls {
		out = append(out, scraper.RawListing{
			Title:          "Go Engineer " + u,
			Company:        "Acme",
			Location:       "Remote",
			SourceURL:      "https://" + site + ".example.com/jobs",
			DescriptionURL: u,
			PostedDateRaw:  "2 days ago",
			Site:           site,
			ScrapedAt:      fixedNow,
		})
	}
	return out
}

// staticScraper всегда отдаёт один и тот же результат и считает вызовы.
func staticScraper(res scraper.Result, calls *int32) *mock.SiteScraper {
	return &mock.SiteScraper{
		ScrapeListingsFn: func(context.Context) scraper.Result {
			if calls != nil {
				atomic.AddInt32(calls, 1)
			}
			return res
		},
		FetchDescriptionFn: func(context.Context, string) (string, error) {
			return "", errors.New("descriptions disabled in this test")
		},
	}
}

func newManager(cfg *config.Config, repo storage.Repository, opts ...app.Option) *app.Manager {
	opts = append([]app.Option{app.WithClock(func() time.Time { return fixedNow })}, opts...)
	return app.NewManager(cfg, repo, nil, opts...)
}

func TestScrapeSiteIsIdempotent(t *testing.T) {
	repo := memory.NewRepository()
	res := scraper.Result{
		Records:    records("acme", "https://acme.example.com/j/1", "https://acme.example.com/j/2", "https://acme.example.com/j/3"),
		Pages:      1,
		StopReason: scraper.StopSinglePage,
	}
	m := newManager(testConfig(profile("acme")), repo, app.WithScraper("acme", staticScraper(res, nil)))
	ctx := context.Background()

	listings, outcome, err := m.ScrapeSite(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, listings, 3)
	assert.Equal(t, 3, outcome.New)
	assert.Zero(t, outcome.Refreshed)

	first, err := m.GetJobListings(ctx, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, first, 3)

	listings, outcome, err = m.ScrapeSite(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, listings, 3)
	assert.Zero(t, outcome.New)
	assert.Equal(t, 3, outcome.Refreshed)

	second, err := m.GetJobListings(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, second, 3)

	ids := map[string]bool{}
	for _, l := range first {
		ids[l.ID] = true
	}
	for _, l := range second {
		assert.True(t, ids[l.ID], "id changed for %s", l.URL)
	}
}

func TestScrapeSitePopulatesNewListing(t *testing.T) {
	repo := memory.NewRepository()
	res := scraper.Result{Records: records("acme", "https://acme.example.com/j/1"), Pages: 1}
	m := newManager(testConfig(profile("acme")), repo, app.WithScraper("acme", staticScraper(res, nil)))

	listings, _, err := m.ScrapeSite(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, listings, 1)

	l := listings[0]
	assert.NotEmpty(t, l.ID)
	assert.Equal(t, "acme", l.Site)
	assert.Equal(t, "https://acme.example.com/j/1", l.URL)
	assert.Equal(t, "https://acme.example.com/jobs", l.SourceURL)
	assert.Len(t, l.ContentHash, 16)
	assert.True(t, fixedNow.Equal(l.FirstSeen))
	assert.True(t, fixedNow.Equal(l.LastSeen))
	require.NotNil(t, l.PostedDate)
	assert.True(t, fixedNow.AddDate(0, 0, -2).Equal(*l.PostedDate))
}

func TestScrapeSiteCaseInsensitiveLookup(t *testing.T) {
	var calls int32
	m := newManager(testConfig(profile("RemoteOK")), memory.NewRepository(),
		app.WithScraper("remoteok", staticScraper(scraper.Result{}, &calls)))

	_, _, err := m.ScrapeSite(context.Background(), "remoteok")
	require.NoError(t, err)
	_, _, err = m.ScrapeSite(context.Background(), "REMOTEOK")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls)
}

func TestScrapeSiteUnknownName(t *testing.T) {
	var calls int32
	m := newManager(testConfig(profile("acme")), memory.NewRepository(),
		app.WithScraper("acme", staticScraper(scraper.Result{}, &calls)))

	listings, outcome, err := m.ScrapeSite(context.Background(), "nope")

	var nf *app.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.Site)
	assert.Nil(t, listings)
	assert.Nil(t, outcome)
	assert.Zero(t, calls)
}

func TestScrapeSiteConfigError(t *testing.T) {
	cfg := testConfig(profile("broken"))
	cfg.SiteErrors[0] = &config.ConfigError{Site: "broken", Field: "selectors.job_container", Reason: "is required"}

	_, outcome, err := newManager(cfg, memory.NewRepository()).ScrapeSite(context.Background(), "broken")

	var ce *config.ConfigError
	require.ErrorAs(t, err, &ce)
	require.NotNil(t, outcome)
	assert.True(t, outcome.Failed())
	assert.Zero(t, outcome.Pages)
}

func TestScrapeSiteSkipsRecordsWithoutURL(t *testing.T) {
	recs := records("acme", "https://acme.example.com/j/1", "")
	m := newManager(testConfig(profile("acme")), memory.NewRepository(),
		app.WithScraper("acme", staticScraper(scraper.Result{Records: recs, Pages: 1}, nil)))

	listings, outcome, err := m.ScrapeSite(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, listings, 1)
	assert.Equal(t, 1, outcome.Skipped)
}

func TestScrapeSiteFirstPageFailure(t *testing.T) {
	res := scraper.Result{
		Pages: 1,
		Errors: []scraper.PageError{{
			Page: 1,
			URL:  "https://acme.example.com/jobs",
			Err:  &fetcher.FetchError{URL: "https://acme.example.com/jobs", StatusCode: 503},
		}},
		StopReason: scraper.StopPageError,
	}
	m := newManager(testConfig(profile("acme")), memory.NewRepository(),
		app.WithScraper("acme", staticScraper(res, nil)))

	_, outcome, err := m.ScrapeSite(context.Background(), "acme")

	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 503, fe.StatusCode)
	assert.Equal(t, "failed", outcome.Result())
}

func TestScrapeSitePartialIsNotFailure(t *testing.T) {
	res := scraper.Result{
		Records: records("acme", "https://acme.example.com/j/1"),
		Pages:   2,
		Errors: []scraper.PageError{{
			Page: 2,
			URL:  "https://acme.example.com/jobs?page=2",
			Err:  &fetcher.FetchError{URL: "https://acme.example.com/jobs?page=2", Err: context.DeadlineExceeded},
		}},
		StopReason: scraper.StopPageError,
	}
	m := newManager(testConfig(profile("acme")), memory.NewRepository(),
		app.WithScraper("acme", staticScraper(res, nil)))

	listings, outcome, err := m.ScrapeSite(context.Background(), "acme")
	require.NoError(t, err)
	assert.Len(t, listings, 1)
	assert.Len(t, outcome.PageErrors, 1)
	assert.Equal(t, "partial", outcome.Result())
}

func TestScrapeSiteStorageFailure(t *testing.T) {
	down := errors.New("connection refused")
	repo := &mock.Repository{
		FindByKeyFn: func(context.Context, string, string) (*storage.JobListing, error) { return nil, down },
	}
	res := scraper.Result{Records: records("acme", "https://acme.example.com/j/1"), Pages: 1}
	m := newManager(testConfig(profile("acme")), repo, app.WithScraper("acme", staticScraper(res, nil)))

	_, _, err := m.ScrapeSite(context.Background(), "acme")
	assert.ErrorIs(t, err, down)
}

func TestScrapeSiteFetchesDescriptionsForNewListings(t *testing.T) {
	cfg := testConfig(profile("acme"))
	cfg.Scraping.FetchDescriptions = true

	var descCalls int32
	s := &mock.SiteScraper{
		ScrapeListingsFn: func(context.Context) scraper.Result {
			return scraper.Result{Records: records("acme", "https://acme.example.com/j/1", "https://acme.example.com/j/2"), Pages: 1}
		},
		FetchDescriptionFn: func(_ context.Context, url string) (string, error) {
			atomic.AddInt32(&descCalls, 1)
			if url == "https://acme.example.com/j/2" {
				return "", &fetcher.FetchError{URL: url, StatusCode: 404}
			}
			return "We build things. Salary: $120,000 per year. Contact jobs@acme.io or visit https://acme.io/careers", nil
		},
	}
	m := newManager(cfg, memory.NewRepository(), app.WithScraper("acme", s))
	ctx := context.Background()

	listings, outcome, err := m.ScrapeSite(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.EqualValues(t, 2, descCalls)
	require.Len(t, outcome.DescriptionErrors, 1)
	assert.Equal(t, "partial", outcome.Result())

	byURL := map[string]*storage.JobListing{}
	for _, l := range listings {
		byURL[l.URL] = l
	}
	enriched := byURL["https://acme.example.com/j/1"]
	assert.Contains(t, enriched.Description, "We build things.")
	assert.Contains(t, enriched.ContactInfo, "jobs@acme.io")
	assert.NotEmpty(t, enriched.SalaryInfo)

	// описание без ответа всё равно сохраняется как вакансия
	assert.Empty(t, byURL["https://acme.example.com/j/2"].Description)

	// повторный прогон описания не качает
	_, _, err = m.ScrapeSite(ctx, "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 2, descCalls)
}

func TestScrapeSiteConcurrentRunsDoNotDuplicate(t *testing.T) {
	repo := memory.NewRepository()
	res := scraper.Result{Records: records("acme", "https://acme.example.com/j/1", "https://acme.example.com/j/2"), Pages: 1}
	m := newManager(testConfig(profile("acme")), repo, app.WithScraper("acme", staticScraper(res, nil)))

	var (
		wg    sync.WaitGroup
		total int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outcome, err := m.ScrapeSite(context.Background(), "acme")
			if assert.NoError(t, err) {
				atomic.AddInt32(&total, int32(outcome.New))
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, total)
	all, err := repo.Query(context.Background(), storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestScrapeAllSitesIsolatesFailures(t *testing.T) {
	good := scraper.Result{Records: records("a", "https://a.example.com/j/1", "https://a.example.com/j/2"), Pages: 1}
	bad := scraper.Result{
		Pages:      1,
		Errors:     []scraper.PageError{{Page: 1, URL: "https://b.example.com/jobs", Err: &fetcher.FetchError{URL: "https://b.example.com/jobs"}}},
		StopReason: scraper.StopPageError,
	}

	disabled := profile("c")
	disabled.Enabled = false

	var disabledCalls int32
	m := newManager(testConfig(profile("a"), profile("b"), disabled), memory.NewRepository(),
		app.WithScraper("a", staticScraper(good, nil)),
		app.WithScraper("b", staticScraper(bad, nil)),
		app.WithScraper("c", staticScraper(good, &disabledCalls)),
	)

	run := m.ScrapeAllSites(context.Background())

	assert.Equal(t, []string{"a", "b"}, run.Sites)
	require.Contains(t, run.Outcomes, "a")
	require.Contains(t, run.Outcomes, "b")
	assert.NotContains(t, run.Outcomes, "c")
	assert.Zero(t, disabledCalls)

	assert.False(t, run.Outcomes["a"].Failed())
	assert.Len(t, run.Outcomes["a"].Listings, 2)
	assert.True(t, run.Outcomes["b"].Failed())
	assert.Empty(t, run.Outcomes["b"].Listings)
}

func TestScrapeAllSitesIncludesConfigErrors(t *testing.T) {
	cfg := testConfig(profile("a"), profile("broken"))
	cfg.SiteErrors[1] = &config.ConfigError{Site: "broken", Field: "name", Reason: "duplicate site name"}

	m := newManager(cfg, memory.NewRepository(),
		app.WithScraper("a", staticScraper(scraper.Result{Records: records("a", "https://a.example.com/j/1")}, nil)))

	run := m.ScrapeAllSites(context.Background())

	assert.False(t, run.Outcomes["a"].Failed())
	var ce *config.ConfigError
	assert.ErrorAs(t, run.Outcomes["broken"].Err, &ce)
}

func TestScrapeAllSitesParallel(t *testing.T) {
	cfg := testConfig(profile("a"), profile("b"), profile("c"))
	cfg.Scraping.ConcurrentSites = 3

	var (
		inFlight int32
		maxSeen  int32
	)
	slow := func(site string) *mock.SiteScraper {
		return &mock.SiteScraper{ScrapeListingsFn: func(context.Context) scraper.Result {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return scraper.Result{Records: records(site, "https://"+site+".example.com/j/1"), Pages: 1}
		}}
	}

	m := newManager(cfg, memory.NewRepository(),
		app.WithScraper("a", slow("a")),
		app.WithScraper("b", slow("b")),
		app.WithScraper("c", slow("c")),
	)

	run := m.ScrapeAllSites(context.Background())
	assert.Len(t, run.Outcomes, 3)
	assert.Greater(t, maxSeen, int32(1))
}

func TestScrapeAllSitesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	m := newManager(testConfig(profile("a"), profile("b")), memory.NewRepository(),
		app.WithScraper("a", staticScraper(scraper.Result{}, &calls)),
		app.WithScraper("b", staticScraper(scraper.Result{}, &calls)),
	)

	run := m.ScrapeAllSites(ctx)

	assert.Zero(t, calls)
	require.Len(t, run.Outcomes, 2)
	for _, o := range run.Outcomes {
		assert.ErrorIs(t, o.Err, context.Canceled)
		assert.Equal(t, scraper.StopCancelled, o.StopReason)
	}
}

func TestScrapeAllSitesCancelledMidRunIsNotSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// сайт a отменяет контекст посреди прогона
	a := &mock.SiteScraper{ScrapeListingsFn: func(context.Context) scraper.Result {
		cancel()
		return scraper.Result{
			Records:    records("a", "https://a.example.com/j/1"),
			Pages:      1,
			StopReason: scraper.StopCancelled,
		}
	}}

	var fetches int32
	f := &mock.Fetcher{FetchFn: func(context.Context, string) (string, error) {
		atomic.AddInt32(&fetches, 1)
		return "<html><body></body></html>", nil
	}}
	pb := profile("b")
	b := scraper.NewSiteScraper(pb, f, scraper.NewDriver(f, 10, nil, nil))

	m := newManager(testConfig(profile("a"), pb), memory.NewRepository(),
		app.WithScraper("a", a),
		app.WithScraper("b", b),
	)

	run := m.ScrapeAllSites(ctx)

	require.Len(t, run.Outcomes, 2)
	oa := run.Outcomes["a"]
	assert.False(t, oa.Failed())
	assert.Equal(t, 1, oa.New)
	assert.Equal(t, "partial", oa.Result())

	ob := run.Outcomes["b"]
	assert.Zero(t, fetches)
	assert.True(t, ob.Failed())
	assert.ErrorIs(t, ob.Err, context.Canceled)
	assert.Equal(t, "cancelled", ob.Result())
}

func TestScrapeSiteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	m := newManager(testConfig(profile("acme")), memory.NewRepository(),
		app.WithScraper("acme", staticScraper(scraper.Result{}, &calls)))

	listings, outcome, err := m.ScrapeSite(ctx, "acme")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listings)
	require.NotNil(t, outcome)
	assert.Equal(t, "cancelled", outcome.Result())
	assert.Zero(t, calls)
}

func TestScrapeSiteCancelledWithoutRecordsFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &mock.SiteScraper{ScrapeListingsFn: func(context.Context) scraper.Result {
		cancel()
		return scraper.Result{StopReason: scraper.StopCancelled}
	}}
	m := newManager(testConfig(profile("acme")), memory.NewRepository(), app.WithScraper("acme", s))

	_, outcome, err := m.ScrapeSite(ctx, "acme")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", outcome.Result())
}

func TestDuplicateSiteNameKeepsFirstProfile(t *testing.T) {
	cfg := testConfig(profile("acme"), profile("acme"))
	cfg.SiteErrors[1] = &config.ConfigError{Site: "acme", Field: "name", Reason: "duplicate site name"}

	var calls int32
	res := scraper.Result{Records: records("acme", "https://acme.example.com/j/1"), Pages: 1}
	m := newManager(cfg, memory.NewRepository(), app.WithScraper("acme", staticScraper(res, &calls)))

	_, outcome, err := m.ScrapeSite(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.New)

	sites := m.Sites()
	require.Len(t, sites, 2)
	assert.NoError(t, sites[0].Err)
	assert.Error(t, sites[1].Err)

	run := m.ScrapeAllSites(context.Background())
	assert.Equal(t, []string{"acme"}, run.Sites)
	require.Contains(t, run.Outcomes, "acme")
	assert.False(t, run.Outcomes["acme"].Failed())
	assert.EqualValues(t, 2, calls)
}

func TestScrapeSiteCountsChangedCards(t *testing.T) {
	repo := memory.NewRepository()
	first := scraper.Result{Records: records("acme", "https://acme.example.com/j/1", "https://acme.example.com/j/2"), Pages: 1}
	m := newManager(testConfig(profile("acme")), repo, app.WithScraper("acme", staticScraper(first, nil)))
	ctx := context.Background()

	_, _, err := m.ScrapeSite(ctx, "acme")
	require.NoError(t, err)

	second := first
	second.Records = records("acme", "https://acme.example.com/j/1", "https://acme.example.com/j/2")
	second.Records[1].Title = "Senior Go Engineer"
	m = newManager(testConfig(profile("acme")), repo, app.WithScraper("acme", staticScraper(second, nil)))

	_, outcome, err := m.ScrapeSite(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Refreshed)
	assert.Equal(t, 1, outcome.Changed)

	// карточка в хранилище остаётся от первого обнаружения
	stored, err := repo.FindByKey(ctx, "acme", "https://acme.example.com/j/2")
	require.NoError(t, err)
	assert.Equal(t, "Go Engineer https://acme.example.com/j/2", stored.Title)
}

// heldLocker считает удерживаемые блокировки.
type heldLocker struct {
	inner *storage.KeyedMutex
	held  int32
}

func (l *heldLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlock, err := l.inner.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	atomic.AddInt32(&l.held, 1)
	return func() {
		atomic.AddInt32(&l.held, -1)
		unlock()
	}, nil
}

func TestDescriptionFetchedOutsideKeyLock(t *testing.T) {
	cfg := testConfig(profile("acme"))
	cfg.Scraping.FetchDescriptions = true

	locker := &heldLocker{inner: storage.NewKeyedMutex()}
	var heldDuringFetch int32
	s := &mock.SiteScraper{
		ScrapeListingsFn: func(context.Context) scraper.Result {
			return scraper.Result{Records: records("acme", "https://acme.example.com/j/1", "https://acme.example.com/j/2"), Pages: 1}
		},
		FetchDescriptionFn: func(context.Context, string) (string, error) {
			atomic.AddInt32(&heldDuringFetch, atomic.LoadInt32(&locker.held))
			return "Build services in Go.", nil
		},
	}
	m := newManager(cfg, memory.NewRepository(), app.WithScraper("acme", s), app.WithLocker(locker))

	listings, outcome, err := m.ScrapeSite(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.New)
	require.Len(t, listings, 2)
	assert.Equal(t, "Build services in Go.", listings[0].Description)
	assert.Zero(t, heldDuringFetch)
	assert.Zero(t, atomic.LoadInt32(&locker.held))
}

func TestGetJobListingsFilters(t *testing.T) {
	m := newManager(testConfig(profile("a"), profile("b")), memory.NewRepository(),
		app.WithScraper("a", staticScraper(scraper.Result{Records: records("a", "https://a.example.com/j/1", "https://a.example.com/j/2")}, nil)),
		app.WithScraper("b", staticScraper(scraper.Result{Records: records("b", "https://b.example.com/j/1")}, nil)),
	)
	ctx := context.Background()
	m.ScrapeAllSites(ctx)

	all, err := m.GetJobListings(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := m.GetJobListings(ctx, storage.Filter{Site: "a"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	kw, err := m.GetJobListings(ctx, storage.Filter{Site: "b", Keyword: "ENGINEER"})
	require.NoError(t, err)
	require.Len(t, kw, 1)
	assert.Equal(t, "b", kw[0].Site)

	none, err := m.GetJobListings(ctx, storage.Filter{Keyword: "rust"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSites(t *testing.T) {
	disabled := profile("off")
	disabled.Enabled = false
	cfg := testConfig(profile("a"), disabled)
	cfg.SiteErrors[1] = errors.New("bad")

	sites := newManager(cfg, memory.NewRepository()).Sites()
	require.Len(t, sites, 2)
	assert.Equal(t, app.SiteInfo{Name: "a", Enabled: true}, sites[0])
	assert.Equal(t, "off", sites[1].Name)
	assert.False(t, sites[1].Enabled)
	assert.Error(t, sites[1].Err)
}
