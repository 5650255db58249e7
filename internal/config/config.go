package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"storybook-server/shared/logger"
)

// Config - конфигурация HTTP-сервера.
type Config struct {
	AppEnv string `env:"APP_ENV" env-default:"development"`
	Port   string `env:"HTTP_PORT" env-default:"8080"`

	Logger   logger.Config
	ImageAPI ImageAPIConfig
	OpenAI   OpenAIConfig
	Storage  StorageConfig
	Images   ImagesConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	RabbitMQ RabbitMQConfig
	Batch    BatchConfig

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

// ImageAPIConfig - сервис генерации изображений.
type ImageAPIConfig struct {
	Provider string        `env:"IMAGE_API_PROVIDER" env-default:"http"` // http | openai
	BaseURL  string        `env:"IMAGE_API_BASE_URL" env-default:"http://localhost:3001/api"`
	APIKey   string        `env:"IMAGE_API_KEY"`
	Timeout  time.Duration `env:"IMAGE_API_TIMEOUT" env-default:"120s"`

	// Таймаут скачивания базовых изображений по http(s)
	FetchTimeout time.Duration `env:"IMAGE_FETCH_TIMEOUT" env-default:"60s"`
	// Минимальный интервал между вызовами API на процесс, 0 - без ограничения
	MinInterval time.Duration `env:"IMAGE_API_MIN_INTERVAL" env-default:"0s"`
}

// OpenAIConfig используется при IMAGE_API_PROVIDER=openai.
type OpenAIConfig struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	BaseURL string `env:"OPENAI_BASE_URL"`
	Model   string `env:"OPENAI_IMAGE_MODEL" env-default:"dall-e-3"`
}

// StorageConfig - хранилище книг и изображений персонажей.
type StorageConfig struct {
	Backend  string        `env:"STORAGE_BACKEND" env-default:"desktop"` // desktop | handle | memory
	Root     string        `env:"STORAGE_ROOT" env-default:"./data"`
	CacheTTL time.Duration `env:"STORAGE_CACHE_TTL" env-default:"5m"`
	Watch    bool          `env:"STORAGE_WATCH" env-default:"true"`

	CharacterStore     string        `env:"CHARACTER_STORE" env-default:"file"` // file | redis
	CharacterImagesDir string        `env:"CHARACTER_IMAGES_DIR" env-default:"./data/characters"`
	ReferenceCacheTTL  time.Duration `env:"REFERENCE_CACHE_TTL" env-default:"10m"`
	LegacyDir          string        `env:"LEGACY_DATA_DIR"`
}

// ImagesConfig - сохранение итоговых изображений.
type ImagesConfig struct {
	SavePath      string `env:"IMAGE_SAVE_PATH" env-default:"./data/images"`
	PublicBaseURL string `env:"IMAGE_PUBLIC_BASE_URL" env-default:"/images"`
}

// RedisConfig. Пустой адрес отключает Redis.
type RedisConfig struct {
	Addr         string `env:"REDIS_ADDR"`
	Password     string `env:"REDIS_PASSWORD"`
	DB           int    `env:"REDIS_DB" env-default:"0"`
	LegacyPrefix string `env:"REDIS_LEGACY_PREFIX"`
	StopPrefix   string `env:"REDIS_STOP_PREFIX" env-default:"storybook:batch:stop:"`
	LockPrefix   string `env:"REDIS_LOCK_PREFIX" env-default:"storybook:lock:book:"`
}

// PostgresConfig. Пустой DSN - история изображений в памяти.
type PostgresConfig struct {
	DSN            string        `env:"DATABASE_URL"`
	MaxConns       int32         `env:"DB_MAX_CONNECTIONS" env-default:"10"`
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" env-default:"10s"`
}

// RabbitMQConfig. Пустой URL - пакетная генерация выполняется в процессе сервера.
type RabbitMQConfig struct {
	URL            string `env:"RABBITMQ_URL"`
	TaskQueue      string `env:"SCENE_BATCH_TASK_QUEUE" env-default:"scene_batch_tasks"`
	ResultQueue    string `env:"SCENE_BATCH_RESULT_QUEUE" env-default:"scene_batch_results"`
	ResultConsumer string `env:"SCENE_BATCH_RESULT_CONSUMER" env-default:"storybook_server"`
	TaskExchange   string `env:"RABBITMQ_TASK_EXCHANGE" env-default:""`
	TaskRoutingKey string `env:"RABBITMQ_TASK_ROUTING_KEY" env-default:""`
}

// BatchConfig - пакетная генерация.
type BatchConfig struct {
	Delay       time.Duration `env:"BATCH_DELAY" env-default:"2s"`
	StopPoll    time.Duration `env:"BATCH_STOP_POLL" env-default:"1s"`
	StopFlagTTL time.Duration `env:"BATCH_STOP_FLAG_TTL" env-default:"24h"`
}

// Load читает .env (если есть) и переменные окружения.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "desktop", "handle", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	switch strings.ToLower(c.ImageAPI.Provider) {
	case "http":
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for IMAGE_API_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("unknown IMAGE_API_PROVIDER %q", c.ImageAPI.Provider)
	}
	switch strings.ToLower(c.Storage.CharacterStore) {
	case "file":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for CHARACTER_STORE=redis")
		}
	default:
		return fmt.Errorf("unknown CHARACTER_STORE %q", c.Storage.CharacterStore)
	}
	return nil
}
