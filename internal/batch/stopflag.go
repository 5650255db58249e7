package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StopFlags передает запрос останова между процессами (сервер -> воркер).
type StopFlags interface {
	Set(ctx context.Context, jobID string) error
	IsSet(ctx context.Context, jobID string) (bool, error)
}

var _ StopFlags = (*RedisStopFlags)(nil)

// RedisStopFlags хранит флаги останова ключами с TTL.
type RedisStopFlags struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisStopFlags(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStopFlags {
	if prefix == "" {
		prefix = "storybook:batch:stop:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStopFlags{client: client, prefix: prefix, ttl: ttl, logger: logger.Named("RedisStopFlags")}
}

func (f *RedisStopFlags) Set(ctx context.Context, jobID string) error {
	if err := f.client.Set(ctx, f.prefix+jobID, "1", f.ttl).Err(); err != nil {
		f.logger.Error("Failed to set stop flag", zap.String("job_id", jobID), zap.Error(err))
		return fmt.Errorf("failed to set stop flag for job %s: %w", jobID, err)
	}
	return nil
}

func (f *RedisStopFlags) IsSet(ctx context.Context, jobID string) (bool, error) {
	err := f.client.Get(ctx, f.prefix+jobID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read stop flag for job %s: %w", jobID, err)
	}
	return true, nil
}

// WatchStop опрашивает флаги и вызывает job.Stop, когда флаг выставлен.
// Возвращается при отмене ctx или после останова задания.
func WatchStop(ctx context.Context, flags StopFlags, job *Job, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			set, err := flags.IsSet(ctx, job.ID)
			if err != nil {
				logger.Warn("Stop flag check failed", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			if set {
				job.Stop()
				logger.Info("Stop flag observed", zap.String("job_id", job.ID))
				return
			}
		}
	}
}
