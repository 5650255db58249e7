package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

// LegacyKeys - ключи старых сохранений в порядке предпочтения.
var LegacyKeys = []string{"story-data-v2", "story-data", "storyData"}

// LegacySource - хранилище старых JSON-сохранений по ключу.
// Отсутствующий ключ возвращает domain.ErrNotFound.
type LegacySource interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

var (
	_ LegacySource = (*RedisSource)(nil)
	_ LegacySource = (*DirSource)(nil)
)

// RedisSource читает сохранения из Redis.
type RedisSource struct {
	client *redis.Client
	prefix string
}

// NewRedisSource создает источник. prefix добавляется к ключу как есть.
func NewRedisSource(client *redis.Client, prefix string) *RedisSource {
	return &RedisSource{client: client, prefix: prefix}
}

func (s *RedisSource) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// DirSource читает сохранения из файлов <dir>/<key> или <dir>/<key>.json.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Get(_ context.Context, key string) ([]byte, error) {
	for _, name := range []string{key, key + ".json"} {
		data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(name)))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, domain.ErrNotFound
}

// LoadLegacy ищет первое существующее сохранение по LegacyKeys и мигрирует его.
// Возвращает результат и ключ, из которого он получен.
func (s *Service) LoadLegacy(ctx context.Context, src LegacySource) (Result, string, error) {
	for _, key := range LegacyKeys {
		data, err := src.Get(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return Result{}, key, err
		}
		s.logger.Info("Legacy data found", zap.String("key", key), zap.Int("size_bytes", len(data)))
		return s.MigrateData(data), key, nil
	}
	return Result{}, "", fmt.Errorf("%w: no legacy data under %v", domain.ErrNotFound, LegacyKeys)
}
