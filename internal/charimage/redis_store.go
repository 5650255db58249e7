package charimage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

// Compile-time check
var _ Store = (*RedisStore)(nil)

// RedisStore хранит изображения персонажей в Redis.
// charimg:{key}:{name}:{id} -> байты изображения
// charimg_index:{key} -> { "{name}:{id}" }
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore создает Redis-хранилище изображений персонажей.
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.Named("CharImageRedisStore"),
	}
}

func imageKey(storageKey, characterName, imageID string) string {
	return fmt.Sprintf("charimg:%s:%s:%s", storageKey, characterName, imageID)
}

func indexKey(storageKey string) string {
	return fmt.Sprintf("charimg_index:%s", storageKey)
}

// Get читает изображение по ключу.
func (s *RedisStore) Get(ctx context.Context, storageKey, characterName, imageID string) ([]byte, error) {
	key := imageKey(storageKey, characterName, imageID)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.logger.Debug("Character image not found in redis", zap.String("key", key))
			return nil, fmt.Errorf("%w: character image %s", domain.ErrNotFound, key)
		}
		s.logger.Error("Failed to get character image from redis", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// Put сохраняет изображение и добавляет его в индекс ключа хранилища.
func (s *RedisStore) Put(ctx context.Context, storageKey, characterName, imageID string, data []byte) error {
	key := imageKey(storageKey, characterName, imageID)

	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.SAdd(ctx, indexKey(storageKey), characterName+":"+imageID)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to store character image in redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	s.logger.Debug("Character image stored in redis", zap.String("key", key), zap.Int("size_bytes", len(data)))
	return nil
}

// List возвращает пары "{name}:{id}" для ключа хранилища.
func (s *RedisStore) List(ctx context.Context, storageKey string) ([]string, error) {
	members, err := s.client.SMembers(ctx, indexKey(storageKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	return members, nil
}
