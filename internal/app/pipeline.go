// Package app собирает общие для сервера и воркера зависимости конвейера генерации.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storybook-server/internal/charimage"
	"storybook-server/internal/imageapi"
	"storybook-server/internal/imagestore"
	"storybook-server/internal/reference"
	"storybook-server/internal/repository"
	"storybook-server/internal/scene"
	"storybook-server/pkg/database"
	"storybook-server/pkg/migration"
)

// PipelineConfig - настройки конвейера генерации.
type PipelineConfig struct {
	Provider      string // http | openai
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	FetchTimeout  time.Duration
	MinInterval   time.Duration
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	CharacterStore     string // file | redis
	CharacterImagesDir string
	ReferenceCacheTTL  time.Duration

	ImageSavePath      string
	ImagePublicBaseURL string
}

// Pipeline - собранный конвейер.
type Pipeline struct {
	Scenes     *scene.Service
	Images     *imagestore.Store
	Characters charimage.Store
	Fetcher    *imageapi.Fetcher
}

// NewPipeline собирает клиент генерации, хранилище персонажей, загрузчик
// референсов и хранилище итоговых изображений. rdb нужен только для
// CharacterStore=redis.
func NewPipeline(cfg PipelineConfig, rdb *redis.Client, logger *zap.Logger) (*Pipeline, error) {
	var client imageapi.Client
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		client = imageapi.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, logger)
	default:
		client = imageapi.NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout, logger)
	}
	client = imageapi.NewRateLimitedClient(client, cfg.MinInterval, 1)

	var characters charimage.Store
	if strings.ToLower(cfg.CharacterStore) == "redis" {
		if rdb == nil {
			return nil, fmt.Errorf("redis client is required for the redis character store")
		}
		characters = charimage.NewRedisStore(rdb, logger)
	} else {
		fs, err := charimage.NewFileStore(cfg.CharacterImagesDir, logger)
		if err != nil {
			return nil, err
		}
		characters = fs
	}

	fetcher := imageapi.NewFetcher(cfg.FetchTimeout, logger)
	refs := reference.NewLoader(characters, cfg.ReferenceCacheTTL, logger)
	images, err := imagestore.New(cfg.ImageSavePath, cfg.ImagePublicBaseURL, fetcher, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Generation pipeline assembled",
		zap.String("provider", cfg.Provider),
		zap.String("character_store", cfg.CharacterStore),
		zap.Duration("min_interval", cfg.MinInterval),
	)
	return &Pipeline{
		Scenes:     scene.NewService(client, refs, fetcher, logger),
		Images:     images,
		Characters: characters,
		Fetcher:    fetcher,
	}, nil
}

// NewHistoryRepository возвращает Postgres-репозиторий истории (с применением
// миграций) или in-memory, если dsn пуст. close освобождает пул.
func NewHistoryRepository(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (repo repository.ImageHistoryRepository, closeFn func(), err error) {
	if dsn == "" {
		logger.Warn("DATABASE_URL is empty, image history is kept in memory")
		return repository.NewMemoryImageHistoryRepository(), func() {}, nil
	}

	db, err := database.New(ctx, database.Config{DSN: dsn, MaxConns: maxConns}, logger)
	if err != nil {
		return nil, nil, err
	}
	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: repository.MigrationsPath,
		MigrationsFS:   repository.MigrationsFS,
	}, db.Pool, logger)
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return repository.NewPgImageHistoryRepository(db.Pool, logger), db.Close, nil
}

// NewRedisClient создает клиента и проверяет соединение. Пустой addr - nil.
func NewRedisClient(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", db))
	return rdb, nil
}
