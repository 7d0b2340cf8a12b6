package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"jobsite-crawler/internal/observability"
)

// maxBodySize: ограничение на размер страницы, чтобы не держать в памяти мусор.
const maxBodySize = 10 << 20

// PageFetcher возвращает разметку страницы по адресу. Одна попытка, один
// запрос; повторы решает вызывающая сторона.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetchError: сетевая ошибка, таймаут или не-2xx ответ.
type FetchError struct {
	URL        string
	StatusCode int // 0, если ответа не было
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout сообщает, истёк ли таймаут запроса.
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// Options: параметры HTTP-фетчера.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// Throttle задаёт минимальную паузу между запросами; nil означает без паузы.
	Throttle *Throttle
	Client   *http.Client
}

type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	throttle  *Throttle
	logger    *observability.Logger
}

func NewHTTPFetcher(opts Options, logger *observability.Logger) *HTTPFetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &HTTPFetcher{
		client:    client,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		throttle:  opts.Throttle,
		logger:    logger,
	}
}

// Fetch ждёт своей очереди у throttle и выполняет ровно один GET.
// Отмена ctx прерывает только ожидание: начатый запрос доживает до ответа
// или таймаута.
func (f *HTTPFetcher) Fetch(ctx context.Context, urlStr string) (string, error) {
	if err := f.throttle.Wait(ctx); err != nil {
		return "", fmt.Errorf("throttle wait: %w", err)
	}

	reqCtx := context.WithoutCancel(ctx)
	if f.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", &FetchError{URL: urlStr, Err: err}
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: urlStr, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Warn("Failed to close response body", "url", urlStr, "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Тело дочитываем, чтобы соединение вернулось в пул
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return "", &FetchError{
			URL:        urlStr,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", &FetchError{URL: urlStr, StatusCode: resp.StatusCode, Err: err}
		}
		defer func() { _ = gzipReader.Close() }()
		reader = gzipReader
	}

	// Приводим к UTF-8 по Content-Type/meta
	utf8Reader, err := charset.NewReader(io.LimitReader(reader, maxBodySize), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", &FetchError{URL: urlStr, StatusCode: resp.StatusCode, Err: err}
	}

	body, err := io.ReadAll(utf8Reader)
	if err != nil {
		return "", &FetchError{URL: urlStr, StatusCode: resp.StatusCode, Err: err}
	}

	f.logger.Debug("Fetched page",
		"url", urlStr,
		"status", resp.StatusCode,
		"content_encoding", resp.Header.Get("Content-Encoding"),
		"bytes", len(body),
		"duration", time.Since(start),
	)

	return string(body), nil
}
