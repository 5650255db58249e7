package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"storybook-server/internal/app"
	"storybook-server/internal/batch"
	"storybook-server/internal/config"
	"storybook-server/internal/messaging"
	"storybook-server/internal/service"
	"storybook-server/internal/storage"
	"storybook-server/internal/worker"
	"storybook-server/shared/logger"
)

func main() {
	// --- 1. Конфигурация и логгер ---
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info("Starting scene batch worker...", zap.String("task_queue", cfg.TaskQueue))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 2. Зависимости генерации ---
	rdb, err := app.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	backend, err := storage.NewDesktopBackend(cfg.StorageRoot, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize storage backend", zap.Error(err))
	}
	books := storage.NewFileStorage(backend, cfg.StorageCacheTTL, appLogger)

	history, closeDB, err := app.NewHistoryRepository(ctx, cfg.DatabaseURL, cfg.DBMaxConns, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize image history repository", zap.Error(err))
	}
	defer closeDB()

	pipeline, err := app.NewPipeline(app.PipelineConfig{
		Provider:           cfg.ImageAPIProvider,
		BaseURL:            cfg.ImageAPIBaseURL,
		APIKey:             cfg.ImageAPIKey,
		Timeout:            cfg.ImageAPITimeout,
		FetchTimeout:       cfg.FetchTimeout,
		MinInterval:        cfg.ImageAPIInterval,
		OpenAIAPIKey:       cfg.OpenAIAPIKey,
		OpenAIBaseURL:      cfg.OpenAIBaseURL,
		OpenAIModel:        cfg.OpenAIModel,
		CharacterStore:     cfg.CharacterStore,
		CharacterImagesDir: cfg.CharacterImagesDir,
		ReferenceCacheTTL:  cfg.ReferenceCacheTTL,
		ImageSavePath:      cfg.ImageSavePath,
		ImagePublicBaseURL: cfg.ImagePublicBaseURL,
	}, rdb, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to assemble generation pipeline", zap.Error(err))
	}
	var genOpts []service.GenerationOption
	if rdb != nil {
		genOpts = append(genOpts, service.WithBookLocker(storage.NewRedisBookLocker(rdb, cfg.RedisLockPrefix, 0, appLogger)))
	}
	generation := service.NewGenerationService(books, pipeline.Scenes, pipeline.Images, history, appLogger, genOpts...)

	// --- 3. RabbitMQ ---
	conn, err := messaging.Connect(ctx, cfg.RabbitMQURL, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	resultPublisher, err := messaging.NewRabbitMQPublisher(conn, cfg.ResultExchange, cfg.ResultRouteKey, cfg.ResultQueue, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create result publisher", zap.Error(err))
	}
	defer resultPublisher.Close()

	var stopFlags batch.StopFlags
	if rdb != nil {
		stopFlags = batch.NewRedisStopFlags(rdb, cfg.RedisStopPrefix, 0, appLogger)
	} else {
		appLogger.Warn("REDIS_ADDR is empty, stop requests from the server are ignored")
	}

	var pusher worker.MetricsPusher
	if cfg.PushGatewayURL != "" {
		pusher = worker.NewPusher(cfg.PushGatewayURL, cfg.PushGatewayJob, appLogger)
	}

	handler := worker.NewHandler(appLogger, books, generation.GenerateScene,
		batch.NewRunner(cfg.BatchDelay, appLogger), resultPublisher, stopFlags, pusher)
	handler.SetStopPoll(cfg.BatchStopPoll)

	// --- 4. Обработка задач до сигнала завершения ---
	err = messaging.Consume(ctx, conn, messaging.QueueConfig{Name: cfg.TaskQueue, Durable: true},
		cfg.ConsumerName, handler, appLogger.Named("TaskConsumer"))
	if err != nil {
		appLogger.Error("Consumer stopped with error", zap.Error(err))
		return
	}
	appLogger.Info("Scene batch worker shut down gracefully")
}
