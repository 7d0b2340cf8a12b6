package fetcher

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	"jobsite-crawler/internal/observability"
)

type BackoffPolicy struct {
	MaxRetries int
	Min        time.Duration
	Max        time.Duration
	JitterPct  int
}

// Retrying повторяет запрос при сетевых ошибках, 429 и 5xx.
// Каждая попытка делает отдельный вызов вложенного фетчера.
type Retrying struct {
	next   PageFetcher
	policy BackoffPolicy
	logger *observability.Logger
}

// WithRetry оборачивает next; при MaxRetries == 0 возвращает его как есть.
func WithRetry(next PageFetcher, policy BackoffPolicy, logger *observability.Logger) PageFetcher {
	if policy.MaxRetries <= 0 {
		return next
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Retrying{next: next, policy: policy, logger: logger}
}

func (r *Retrying) Fetch(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.calculateBackoff(attempt)
			r.logger.Debug("Retrying fetch", "url", url, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				// попытка уже была: её ошибку отдаём вместе с отменой
				return "", errors.Join(lastErr, ctx.Err())
			}
		}

		body, err := r.next.Fetch(ctx, url)
		if err == nil {
			return body, nil
		}
		if !retryable(err) {
			if lastErr != nil && ctx.Err() != nil {
				return "", errors.Join(lastErr, err)
			}
			return "", err
		}
		lastErr = err
	}

	return "", lastErr
}

func retryable(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		// ошибка ожидания или отмена
		return false
	}
	if fe.StatusCode == 0 {
		return true
	}
	return fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode >= 500
}

func (r *Retrying) calculateBackoff(attempt int) time.Duration {
	minMS := r.policy.Min.Milliseconds()
	maxMS := r.policy.Max.Milliseconds()
	jitterPct := r.policy.JitterPct

	// Exponential backoff: min * 2^(attempt-1)
	exponential := minMS * (1 << uint(attempt-1))
	if exponential > maxMS || exponential <= 0 {
		exponential = maxMS
	}

	// Apply jitter: ±jitterPct%
	jitterRange := float64(exponential) * float64(jitterPct) / 100
	jitter := (rand.Float64() - 0.5) * 2 * jitterRange
	finalMS := float64(exponential) + jitter

	if finalMS < float64(minMS) {
		finalMS = float64(minMS)
	}

	return time.Duration(math.Max(finalMS, 0)) * time.Millisecond
}
