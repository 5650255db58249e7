package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storybook-server/internal/app"
	"storybook-server/internal/batch"
	"storybook-server/internal/config"
	"storybook-server/internal/handler"
	"storybook-server/internal/messaging"
	"storybook-server/internal/migration"
	"storybook-server/internal/service"
	"storybook-server/internal/storage"
	"storybook-server/shared/logger"
	sharedMiddleware "storybook-server/shared/middleware"
)

func main() {
	// --- 1. Конфигурация и логгер ---
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info("Starting storybook server...", zap.String("env", cfg.AppEnv), zap.String("port", cfg.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 2. Redis (опционально) ---
	rdb, err := app.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// --- 3. Хранилище книг ---
	backend, handleBackend, err := newBackend(cfg.Storage, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize storage backend", zap.Error(err))
	}
	if handleBackend != nil {
		defer handleBackend.Close()
	}
	books := storage.NewFileStorage(backend, cfg.Storage.CacheTTL, appLogger)

	// --- 4. История изображений ---
	history, closeDB, err := app.NewHistoryRepository(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize image history repository", zap.Error(err))
	}
	defer closeDB()

	// --- 5. Конвейер генерации ---
	pipeline, err := app.NewPipeline(app.PipelineConfig{
		Provider:           cfg.ImageAPI.Provider,
		BaseURL:            cfg.ImageAPI.BaseURL,
		APIKey:             cfg.ImageAPI.APIKey,
		Timeout:            cfg.ImageAPI.Timeout,
		FetchTimeout:       cfg.ImageAPI.FetchTimeout,
		MinInterval:        cfg.ImageAPI.MinInterval,
		OpenAIAPIKey:       cfg.OpenAI.APIKey,
		OpenAIBaseURL:      cfg.OpenAI.BaseURL,
		OpenAIModel:        cfg.OpenAI.Model,
		CharacterStore:     cfg.Storage.CharacterStore,
		CharacterImagesDir: cfg.Storage.CharacterImagesDir,
		ReferenceCacheTTL:  cfg.Storage.ReferenceCacheTTL,
		ImageSavePath:      cfg.Images.SavePath,
		ImagePublicBaseURL: cfg.Images.PublicBaseURL,
	}, rdb, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to assemble generation pipeline", zap.Error(err))
	}
	// Общая блокировка книги с воркерами, только при настроенном Redis
	var bookLocker service.BookLocker
	var genOpts []service.GenerationOption
	if rdb != nil {
		bookLocker = storage.NewRedisBookLocker(rdb, cfg.Redis.LockPrefix, 0, appLogger)
		genOpts = append(genOpts, service.WithBookLocker(bookLocker))
	}
	generation := service.NewGenerationService(books, pipeline.Scenes, pipeline.Images, history, appLogger, genOpts...)

	g, gctx := errgroup.WithContext(ctx)

	// --- 6. Пакетная генерация: локально или через воркер ---
	var batchOpts []service.BatchOption
	var conn *amqp091.Connection
	if cfg.RabbitMQ.URL != "" {
		conn, err = messaging.Connect(ctx, cfg.RabbitMQ.URL, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer conn.Close()
		taskPublisher, err := messaging.NewRabbitMQPublisher(conn, cfg.RabbitMQ.TaskExchange, cfg.RabbitMQ.TaskRoutingKey, cfg.RabbitMQ.TaskQueue, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to create task publisher", zap.Error(err))
		}
		defer taskPublisher.Close()
		batchOpts = append(batchOpts, service.WithDispatcher(taskPublisher))
		if rdb != nil {
			batchOpts = append(batchOpts, service.WithStopFlags(
				batch.NewRedisStopFlags(rdb, cfg.Redis.StopPrefix, cfg.Batch.StopFlagTTL, appLogger)))
		} else {
			appLogger.Warn("REDIS_ADDR is empty, stop requests will not reach the worker")
		}
		appLogger.Info("Batch jobs are dispatched to the worker", zap.String("queue", cfg.RabbitMQ.TaskQueue))
	}
	batches := service.NewBatchService(books, generation.GenerateScene,
		batch.NewRunner(cfg.Batch.Delay, appLogger), batch.NewRegistry(appLogger), appLogger, batchOpts...)
	defer batches.Close()

	if conn != nil {
		g.Go(func() error {
			return messaging.Consume(gctx, conn, messaging.QueueConfig{Name: cfg.RabbitMQ.ResultQueue, Durable: true},
				cfg.RabbitMQ.ResultConsumer, messaging.DeliveryHandlerFunc(batches.HandleResult), appLogger.Named("ResultConsumer"))
		})
	}

	// --- 7. Наблюдение за внешними правками ---
	if cfg.Storage.Watch && strings.EqualFold(cfg.Storage.Backend, "desktop") {
		watcher, err := storage.NewWatcher(cfg.Storage.Root, books, appLogger)
		if err != nil {
			appLogger.Warn("Storage watcher disabled", zap.Error(err))
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	// --- 8. HTTP ---
	h := handler.New(books, generation, batches, migration.NewService(appLogger), pipeline.Characters, appLogger,
		handlerOptions(cfg, rdb, handleBackend, bookLocker)...)
	router := newRouter(cfg, h, appLogger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		appLogger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server stopped with error", zap.Error(err))
		return
	}
	appLogger.Info("Server shut down gracefully")
}

func newBackend(cfg config.StorageConfig, logger *zap.Logger) (storage.Backend, *storage.HandleBackend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		logger.Warn("Using in-memory storage backend, books are lost on restart")
		return storage.NewMemoryBackend(), nil, nil
	case "handle":
		hb := storage.NewHandleBackend(logger)
		if cfg.Root != "" {
			if err := hb.SelectDirectory(cfg.Root); err != nil {
				logger.Warn("Initial storage directory not selected", zap.String("root", cfg.Root), zap.Error(err))
			}
		}
		return hb, hb, nil
	default:
		b, err := storage.NewDesktopBackend(cfg.Root, logger)
		return b, nil, err
	}
}

func handlerOptions(cfg *config.Config, rdb *redis.Client, hb *storage.HandleBackend, locker service.BookLocker) []handler.Option {
	var opts []handler.Option
	if hb != nil {
		opts = append(opts, handler.WithDirectorySelector(hb))
	}
	switch {
	case cfg.Storage.LegacyDir != "":
		opts = append(opts, handler.WithLegacySource(migration.NewDirSource(cfg.Storage.LegacyDir)))
	case rdb != nil:
		opts = append(opts, handler.WithLegacySource(migration.NewRedisSource(rdb, cfg.Redis.LegacyPrefix)))
	}
	if locker != nil {
		opts = append(opts, handler.WithBookLocker(locker))
	}
	return opts
}

func newRouter(cfg *config.Config, h *handler.Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.AppEnv == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(sharedMiddleware.ZapLoggingMiddlewareForGin(logger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSAllowedOrigins) == 0 || (len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", sharedMiddleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	h.RegisterRoutes(router)
	if !strings.HasPrefix(cfg.Images.PublicBaseURL, "http") {
		router.Static(cfg.Images.PublicBaseURL, filepath.Clean(cfg.Images.SavePath))
	}
	return router
}
