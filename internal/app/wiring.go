package app

import (
	"context"
	"fmt"

	"jobsite-crawler/internal/config"
	"jobsite-crawler/internal/fetcher"
	"jobsite-crawler/internal/observability"
	"jobsite-crawler/internal/scraper"
	"jobsite-crawler/internal/storage"
	"jobsite-crawler/internal/storage/memory"
	"jobsite-crawler/internal/storage/mssql"
	"jobsite-crawler/internal/storage/postgres"
	"jobsite-crawler/internal/storage/redislock"
	"jobsite-crawler/internal/storage/sqlite"
)

// Fetchers владеет ресурсами, общими для всех сайтов (браузер, общий таймер).
type Fetchers struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	shared  *fetcher.Throttle
	render  *fetcher.RodFetcher
}

// NewFetchers поднимает браузер только если динамический рендеринг разрешён.
func NewFetchers(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*Fetchers, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	f := &Fetchers{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		shared:  fetcher.NewThrottle(cfg.GetRequestDelay()),
	}

	if cfg.Scraping.AllowDynamicRendering && cfg.Rod.Enabled {
		render, err := fetcher.NewRodFetcher(fetcher.RodOptions{
			ChromePath:      cfg.Rod.ChromePath,
			PageTimeout:     cfg.GetRodPageTimeout(),
			WaitLoadTimeout: cfg.GetRodWaitLoadTimeout(),
			LazyLoadDelay:   cfg.GetRodLazyLoadDelay(),
			UserAgent:       cfg.Scraping.UserAgent,
			Throttle:        fetcher.NewThrottle(cfg.GetRequestDelay()),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start renderer: %w", err)
		}
		f.render = render
	}
	return f, nil
}

// Build: ScraperFactory для Manager. При concurrent_sites > 1 у каждого
// сайта свой таймер задержки, иначе один на процесс.
func (f *Fetchers) Build(profile scraper.SiteProfile) scraper.SiteScraper {
	throttle := f.shared
	if f.cfg.Scraping.ConcurrentSites > 1 {
		throttle = fetcher.NewThrottle(f.cfg.GetRequestDelay())
	}

	log := f.logger.With("site", profile.Name)

	static := fetcher.WithRetry(
		fetcher.NewHTTPFetcher(fetcher.Options{
			UserAgent: f.cfg.Scraping.UserAgent,
			Timeout:   f.cfg.GetTimeout(),
			Throttle:  throttle,
		}, log),
		fetcher.BackoffPolicy{
			MaxRetries: f.cfg.Scraping.MaxRetries,
			Min:        f.cfg.GetBackoffMin(),
			Max:        f.cfg.GetBackoffMax(),
			JitterPct:  f.cfg.Backoff.JitterPct,
		},
		log,
	)

	listing := static
	if f.render != nil {
		listing = scraper.NewRenderFallback(static, f.render, profile.Selectors.Container, log)
	}

	driver := scraper.NewDriver(listing, f.cfg.Scraping.MaxPagesPerSite, f.logger, f.metrics)
	return scraper.NewSiteScraper(profile, static, driver)
}

func (f *Fetchers) Close() error {
	if f.render == nil {
		return nil
	}
	return f.render.Close()
}

// OpenRepository выбирает хранилище по storage.driver.
func OpenRepository(ctx context.Context, cfg *config.Config, logger *observability.Logger) (storage.Repository, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		repo, err := sqlite.NewRepository(cfg.Storage.DSN, cfg.GetCommandTimeout(), logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "postgres":
		repo, err := postgres.NewRepository(ctx, cfg.Storage.DSN, cfg.GetCommandTimeout(), logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "mssql":
		repo, err := mssql.NewRepository(cfg.Storage.DSN, cfg.GetCommandTimeout(), logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "memory", "":
		return memory.NewRepository(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// OpenLocker открывает блокировку ключей, локальную или через Redis.
// Возвращаемую функцию нужно вызвать при завершении.
func OpenLocker(ctx context.Context, cfg *config.Config, logger *observability.Logger) (storage.Locker, func() error, error) {
	if cfg.Storage.Lock != "redis" {
		return storage.NewKeyedMutex(), func() error { return nil }, nil
	}

	rdb, err := redislock.NewClient(ctx, cfg.Storage.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return redislock.New(rdb, 0, logger), rdb.Close, nil
}
