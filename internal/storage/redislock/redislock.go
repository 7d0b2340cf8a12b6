// Package redislock реализует блокировку ключа вакансии между процессами через Redis.
package redislock

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jobsite-crawler/internal/observability"
	"jobsite-crawler/internal/storage"
)

var _ storage.Locker = (*Locker)(nil)

const (
	keyPrefix    = "jobcrawler:lock:"
	defaultTTL   = 30 * time.Second
	retryBackoff = 50 * time.Millisecond
)

// Снимаем блокировку, только если она всё ещё наша
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewClient разбирает адрес (host:port или redis://...) и проверяет соединение.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func New(rdb *redis.Client, ttl time.Duration, logger *observability.Logger) *Locker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Locker{rdb: rdb, ttl: ttl, logger: logger}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + hashKey(key)
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}

		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return func() {
		// снимаем даже если вызывающий контекст уже отменён
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.rdb, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("Failed to release redis lock", "key", redisKey, "error", err)
		}
	}, nil
}

func hashKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}
