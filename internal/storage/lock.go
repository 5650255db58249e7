package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockTimeout - блокировка книги не получена до отмены ctx.
var ErrLockTimeout = errors.New("book lock not acquired")

// unlockScript удаляет ключ, только если он все еще принадлежит владельцу.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisBookLocker - блокировка книги между процессами (сервер и воркеры
// пишут один каталог). Ключ живет ttl, чтобы упавший процесс не держал его вечно.
type RedisBookLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

func NewRedisBookLocker(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisBookLocker {
	if prefix == "" {
		prefix = "storybook:lock:book:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisBookLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		logger: logger.Named("RedisBookLocker"),
	}
}

// Lock ждет блокировку книги slug. unlock безопасно вызывать после истечения ttl:
// чужой ключ не удаляется.
func (l *RedisBookLocker) Lock(ctx context.Context, slug string) (unlock func(), err error) {
	key := l.prefix + slug
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, slug, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire book lock %s: %w", slug, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, slug, ctx.Err())
		case <-time.After(l.retry):
		}
	}

	return func() {
		// ctx вызова мог быть уже отменен
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release book lock", zap.String("slug", slug), zap.Error(err))
		}
	}, nil
}
