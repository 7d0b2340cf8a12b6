package fetcher

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle выдерживает минимальный интервал между запросами.
// Один экземпляр может делиться между несколькими фетчерами.
type Throttle struct {
	limiter *rate.Limiter
}

func NewThrottle(delay time.Duration) *Throttle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1)}
}

// Wait блокирует до следующего разрешённого запроса. Nil-throttle не ждёт.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return ctx.Err()
	}
	return t.limiter.Wait(ctx)
}
