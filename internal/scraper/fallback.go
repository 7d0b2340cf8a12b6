package scraper

import (
	"context"

	"jobsite-crawler/internal/fetcher"
	"jobsite-crawler/internal/observability"
)

// RenderFallback сначала берёт статическую разметку и только если в ней
// нет ни одного контейнера, просит рендерер.
type RenderFallback struct {
	static    fetcher.PageFetcher
	render    fetcher.PageFetcher
	container string
	logger    *observability.Logger
}

var _ fetcher.PageFetcher = (*RenderFallback)(nil)

func NewRenderFallback(static, render fetcher.PageFetcher, containerSelector string, logger *observability.Logger) *RenderFallback {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RenderFallback{static: static, render: render, container: containerSelector, logger: logger}
}

func (f *RenderFallback) Fetch(ctx context.Context, url string) (string, error) {
	body, err := f.static.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if f.render == nil || f.container == "" || CountContainers(body, f.container) > 0 {
		return body, nil
	}

	f.logger.Info("No containers in static markup, rendering", "url", url, "container", f.container)

	rendered, err := f.render.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return rendered, nil
}
