package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"jobsite-crawler/internal/checksum"
	"jobsite-crawler/internal/config"
	"jobsite-crawler/internal/normalize"
	"jobsite-crawler/internal/observability"
	"jobsite-crawler/internal/scraper"
	"jobsite-crawler/internal/storage"
)

// NotFoundError: запрошен сайт, которого нет в конфигурации.
type NotFoundError struct {
	Site string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("site %q is not configured", e.Site)
}

// SiteOutcome: итог скрейпа одного сайта. Частичный успех (часть страниц
// упала) считается нормальным результатом: Err заполняется, только если сайт не дал ничего.
type SiteOutcome struct {
	Site              string
	Listings          []*storage.JobListing // новые и обновлённые
	New               int
	Refreshed         int
	Skipped           int // записи без ссылки на вакансию
	Changed           int // уже известные вакансии с другим хешем карточки
	PageErrors        []scraper.PageError
	DescriptionErrors []error
	Err               error
	Pages             int
	StopReason        scraper.StopReason
	Duration          time.Duration
}

func (o *SiteOutcome) Failed() bool { return o.Err != nil }

// Result: метка для логов и метрик.
func (o *SiteOutcome) Result() string {
	switch {
	case o.Err != nil && o.StopReason == scraper.StopCancelled:
		return "cancelled"
	case o.Err != nil:
		return "failed"
	case len(o.PageErrors) > 0 || len(o.DescriptionErrors) > 0 || o.StopReason == scraper.StopCancelled:
		return "partial"
	default:
		return "ok"
	}
}

// ScrapeRun: отчёт одного вызова ScrapeAllSites.
type ScrapeRun struct {
	Sites    []string
	Start    time.Time
	End      time.Time
	Outcomes map[string]*SiteOutcome
}

// ScraperFactory собирает SiteScraper для валидного профиля.
type ScraperFactory func(profile scraper.SiteProfile) scraper.SiteScraper

// SiteInfo: сайт из конфигурации и ошибка его профиля, если есть.
type SiteInfo struct {
	Name    string
	Enabled bool
	Err     error
}

type siteEntry struct {
	name    string
	profile scraper.SiteProfile
	scraper scraper.SiteScraper
	err     error
}

// Manager: единственная точка входа для CLI и планировщика.
type Manager struct {
	repo              storage.Repository
	locker            storage.Locker
	logger            *observability.Logger
	metrics           *observability.Metrics
	now               func() time.Time
	dates             *scraper.DateParser
	hasher            *checksum.Generator
	sites             []*siteEntry
	overrides         map[string]scraper.SiteScraper
	concurrent        int
	fetchDescriptions bool
}

type Option func(*Manager)

// WithScraper подменяет реализацию для сайта (сравнение имени без учёта регистра).
func WithScraper(site string, s scraper.SiteScraper) Option {
	return func(m *Manager) { m.overrides[strings.ToLower(site)] = s }
}

func WithLocker(l storage.Locker) Option {
	return func(m *Manager) { m.locker = l }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func WithLogger(logger *observability.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg *config.Config, repo storage.Repository, build ScraperFactory, opts ...Option) *Manager {
	m := &Manager{
		repo:              repo,
		locker:            storage.NewKeyedMutex(),
		logger:            observability.NewNopLogger(),
		now:               time.Now,
		hasher:            checksum.NewGenerator(),
		overrides:         make(map[string]scraper.SiteScraper),
		concurrent:        cfg.Scraping.ConcurrentSites,
		fetchDescriptions: cfg.Scraping.FetchDescriptions,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.concurrent <= 0 {
		m.concurrent = 1
	}
	m.dates = scraper.NewDateParserAt(m.now)

	for i, p := range cfg.Sites {
		name := p.Name
		if strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("sites[%d]", i)
		}
		e := &siteEntry{name: name, profile: p, err: cfg.SiteErrors[i]}
		if e.err == nil {
			if s, ok := m.overrides[strings.ToLower(name)]; ok {
				e.scraper = s
			} else if build != nil {
				e.scraper = build(p)
			}
		}
		m.sites = append(m.sites, e)
	}
	return m
}

// Sites: все сайты конфигурации в исходном порядке.
func (m *Manager) Sites() []SiteInfo {
	out := make([]SiteInfo, 0, len(m.sites))
	for _, e := range m.sites {
		out = append(out, SiteInfo{Name: e.name, Enabled: e.profile.Enabled, Err: e.err})
	}
	return out
}

func (m *Manager) lookup(name string) (*siteEntry, error) {
	for _, e := range m.sites {
		if strings.EqualFold(e.name, strings.TrimSpace(name)) {
			return e, nil
		}
	}
	return nil, &NotFoundError{Site: name}
}

// ScrapeSite скрейпит один сайт и возвращает затронутые вакансии.
// Ошибка возвращается для неизвестного имени, невалидного профиля,
// недоступного хранилища и полностью упавшего сайта; outcome при этом
// всё равно заполнен, если скрейп начинался.
func (m *Manager) ScrapeSite(ctx context.Context, name string) ([]*storage.JobListing, *SiteOutcome, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, nil, err
	}
	outcome := m.scrapeEntry(ctx, e)
	return outcome.Listings, outcome, outcome.Err
}

// ScrapeAllSites обходит включённые сайты. Падение одного сайта попадает
// в его outcome и не останавливает остальные.
func (m *Manager) ScrapeAllSites(ctx context.Context) *ScrapeRun {
	run := &ScrapeRun{
		Start:    m.now(),
		Outcomes: make(map[string]*SiteOutcome),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(m.concurrent)

	seen := make(map[string]bool)
	for _, e := range m.sites {
		if !e.profile.Enabled {
			continue
		}
		// повторный профиль с тем же именем виден в Sites() со своей ошибкой
		key := strings.ToLower(e.name)
		if seen[key] {
			m.logger.Warn("Duplicate site entry skipped", "site", e.name)
			continue
		}
		seen[key] = true
		run.Sites = append(run.Sites, e.name)

		// отмена проверяется между сайтами
		if err := ctx.Err(); err != nil {
			run.Outcomes[e.name] = &SiteOutcome{Site: e.name, Err: err, StopReason: scraper.StopCancelled}
			continue
		}

		e := e // per-iteration copy (go.mod targets go 1.21 loop semantics)
		g.Go(func() error {
			outcome := m.scrapeEntry(ctx, e)
			mu.Lock()
			run.Outcomes[e.name] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	run.End = m.now()

	failed := 0
	for _, o := range run.Outcomes {
		if o.Failed() {
			failed++
		}
	}
	m.logger.Info("Scrape run completed",
		"sites", len(run.Sites),
		"failed", failed,
		"duration", run.End.Sub(run.Start).String(),
	)
	return run
}

// GetJobListings: чтение из хранилища, без сетевых запросов.
func (m *Manager) GetJobListings(ctx context.Context, f storage.Filter) ([]*storage.JobListing, error) {
	listings, err := m.repo.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	return listings, nil
}

func (m *Manager) scrapeEntry(ctx context.Context, e *siteEntry) *SiteOutcome {
	start := m.now()
	outcome := &SiteOutcome{Site: e.name}
	log := m.logger.With("site", e.name)

	defer func() {
		outcome.Duration = m.now().Sub(start)
		m.metrics.ObserveSite(e.name, outcome.Result(), outcome.Duration)
	}()

	if e.err != nil {
		log.Error("Site profile is invalid", "error", e.err.Error())
		outcome.Err = e.err
		return outcome
	}
	if e.scraper == nil {
		outcome.Err = fmt.Errorf("no scraper for site %q", e.name)
		return outcome
	}

	// g.Go может ждать свободного слота дольше, чем живёт контекст
	if err := ctx.Err(); err != nil {
		outcome.Err = fmt.Errorf("scrape cancelled: %w", err)
		outcome.StopReason = scraper.StopCancelled
		return outcome
	}

	log.Info("Starting site scrape")

	res := e.scraper.ScrapeListings(ctx)
	outcome.Pages = res.Pages
	outcome.StopReason = res.StopReason
	outcome.PageErrors = res.Errors

	// запросы уже сделаны, результаты сохраняем даже после отмены
	storeCtx := context.WithoutCancel(ctx)
	for _, rec := range res.Records {
		if rec.DescriptionURL == "" {
			outcome.Skipped++
			continue
		}
		w, err := m.persist(storeCtx, ctx, e, rec)
		if err != nil {
			log.Error("Failed to store listing", "url", rec.DescriptionURL, "error", err.Error())
			outcome.Err = fmt.Errorf("store listing %s: %w", rec.DescriptionURL, err)
			break
		}
		if w.changed {
			outcome.Changed++
		}
		if w.descErr != nil {
			outcome.DescriptionErrors = append(outcome.DescriptionErrors, w.descErr)
		}
		if w.isNew {
			outcome.New++
		} else {
			outcome.Refreshed++
		}
		outcome.Listings = append(outcome.Listings, w.listing)
	}

	if outcome.Err == nil && len(res.Records) == 0 && len(res.Errors) > 0 && res.Errors[0].Page == 1 {
		outcome.Err = fmt.Errorf("site unreachable: %w", res.Errors[0])
	}
	if outcome.Err == nil && len(res.Records) == 0 && res.StopReason == scraper.StopCancelled {
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		outcome.Err = fmt.Errorf("scrape cancelled: %w", err)
	}

	m.metrics.AddListings(e.name, "new", outcome.New)
	m.metrics.AddListings(e.name, "refreshed", outcome.Refreshed)
	m.metrics.AddListings(e.name, "skipped", outcome.Skipped)

	fields := []interface{}{
		"pages", outcome.Pages,
		"new", outcome.New,
		"refreshed", outcome.Refreshed,
		"skipped", outcome.Skipped,
		"changed", outcome.Changed,
		"page_errors", len(outcome.PageErrors),
		"description_errors", len(outcome.DescriptionErrors),
		"stopped_reason", string(outcome.StopReason),
	}
	if outcome.Err != nil {
		log.Error("Site scrape failed", append(fields, "error", outcome.Err.Error())...)
	} else {
		log.Info("Site scrape completed", fields...)
	}
	return outcome
}

type written struct {
	listing *storage.JobListing
	isNew   bool
	changed bool
	descErr error
}

// persist применяет find + upsert под блокировкой ключа (site, url).
// fetchCtx отменяем, storeCtx нет: описание не качаем после отмены,
// но уже найденную вакансию сохраняем.
func (m *Manager) persist(storeCtx, fetchCtx context.Context, e *siteEntry, rec scraper.RawListing) (written, error) {
	now := m.now().UTC()
	fields := checksum.ListingFields{
		Title:          rec.Title,
		Company:        rec.Company,
		Location:       rec.Location,
		JobType:        rec.JobType,
		DescriptionURL: rec.DescriptionURL,
	}

	// Описание качаем до блокировки: запрос с ретраями может идти дольше TTL блокировки.
	var (
		fresh   *storage.JobListing
		descErr error
	)
	_, err := m.repo.FindByKey(storeCtx, rec.Site, rec.DescriptionURL)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		fresh = m.newListing(rec, fields, now)
		if m.fetchDescriptions && fetchCtx.Err() == nil {
			descErr = m.enrich(fetchCtx, e, fresh)
		}
	default:
		return written{}, fmt.Errorf("find: %w", err)
	}

	unlock, err := m.locker.Lock(storeCtx, storage.Key(rec.Site, rec.DescriptionURL))
	if err != nil {
		return written{}, fmt.Errorf("lock: %w", err)
	}
	defer unlock()

	existing, err := m.repo.FindByKey(storeCtx, rec.Site, rec.DescriptionURL)
	switch {
	case err == nil:
		changed := !m.hasher.VerifyContentHash(existing.ContentHash, fields)
		if changed {
			m.logger.Debug("Listing card changed since first seen", "site", e.name, "url", rec.DescriptionURL)
		}
		existing.LastSeen = now
		stored, err := m.repo.Upsert(storeCtx, existing)
		if err != nil {
			return written{}, fmt.Errorf("refresh: %w", err)
		}
		return written{listing: stored, changed: changed}, nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		return written{}, fmt.Errorf("find: %w", err)
	}

	if fresh == nil {
		// вакансию удалили между проверками
		fresh = m.newListing(rec, fields, now)
	}
	stored, err := m.repo.Upsert(storeCtx, fresh)
	if err != nil {
		return written{}, fmt.Errorf("insert: %w", err)
	}
	return written{listing: stored, isNew: true, descErr: descErr}, nil
}

func (m *Manager) newListing(rec scraper.RawListing, fields checksum.ListingFields, now time.Time) *storage.JobListing {
	return &storage.JobListing{
		ID:            uuid.NewString(),
		Site:          rec.Site,
		URL:           rec.DescriptionURL,
		Title:         rec.Title,
		Company:       rec.Company,
		JobType:       rec.JobType,
		Location:      rec.Location,
		SourceURL:     rec.SourceURL,
		PostedDateRaw: rec.PostedDateRaw,
		PostedDate:    m.dates.Parse(rec.PostedDateRaw),
		ContentHash:   m.hasher.GenerateContentHash(fields),
		FirstSeen:     now,
		LastSeen:      now,
	}
}

func (m *Manager) enrich(ctx context.Context, e *siteEntry, l *storage.JobListing) error {
	text, err := e.scraper.FetchDescription(ctx, l.URL)
	if err != nil {
		m.logger.Warn("Failed to fetch description", "site", e.name, "url", l.URL, "error", err.Error())
		return fmt.Errorf("description %s: %w", l.URL, err)
	}

	host := hostOf(e.profile.BaseURL)
	if host == "" {
		host = hostOf(l.SourceURL)
	}
	d := normalize.ExtractDetails(text, host)

	l.Description = text
	l.SalaryInfo = d.Salary
	l.ContactInfo = d.Contact
	l.CompanyWebsite = d.CompanyWebsite
	return nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
