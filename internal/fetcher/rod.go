package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"jobsite-crawler/internal/observability"
)

var _ PageFetcher = (*RodFetcher)(nil)

type RodOptions struct {
	ChromePath      string
	PageTimeout     time.Duration
	WaitLoadTimeout time.Duration
	// LazyLoadDelay: пауза после загрузки, чтобы отработали ленивые скрипты.
	LazyLoadDelay time.Duration
	UserAgent     string
	Throttle      *Throttle
}

// RodFetcher рендерит страницу в headless Chrome и отдаёт итоговый HTML.
// Безопасен для параллельного использования.
type RodFetcher struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     RodOptions
	logger   *observability.Logger
}

func NewRodFetcher(opts RodOptions, logger *observability.Logger) (*RodFetcher, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	l := launcher.New().
		Set("disable-background-timer-throttling").
		Set("disable-dev-shm-usage").
		Leakless(true).
		Headless(true)
	if opts.ChromePath != "" {
		l = l.Bin(opts.ChromePath)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	return &RodFetcher{browser: browser, launcher: l, opts: opts, logger: logger}, nil
}

func (f *RodFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := f.opts.Throttle.Wait(ctx); err != nil {
		return "", fmt.Errorf("throttle wait: %w", err)
	}

	pageCtx := context.WithoutCancel(ctx)
	if f.opts.PageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(pageCtx, f.opts.PageTimeout)
		defer cancel()
	}

	page, err := f.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	defer func() {
		if err := page.Close(); err != nil {
			f.logger.Warn("Failed to close rod page", "url", url, "error", err)
		}
	}()

	page = page.Context(pageCtx)

	if f.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.opts.UserAgent}); err != nil {
			return "", &FetchError{URL: url, Err: err}
		}
	}

	if err := page.Navigate(url); err != nil {
		return "", &FetchError{URL: url, Err: err}
	}

	waitPage := page
	if f.opts.WaitLoadTimeout > 0 {
		waitPage = page.Timeout(f.opts.WaitLoadTimeout)
	}
	if err := waitPage.WaitLoad(); err != nil {
		return "", &FetchError{URL: url, Err: err}
	}

	if f.opts.LazyLoadDelay > 0 {
		select {
		case <-time.After(f.opts.LazyLoadDelay):
		case <-pageCtx.Done():
			return "", &FetchError{URL: url, Err: pageCtx.Err()}
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}

	f.logger.Debug("Rendered page", "url", url, "bytes", len(html))
	return html, nil
}

func (f *RodFetcher) Close() error {
	err := f.browser.Close()
	f.launcher.Kill()
	return err
}
