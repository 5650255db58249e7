package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/internal/batch"
	"storybook-server/internal/domain"
	"storybook-server/internal/messaging"
	"storybook-server/internal/service"
)

var (
	tasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_worker_tasks_processed_total",
			Help: "Total number of scene batch tasks processed by the worker.",
		},
		[]string{"status"}, // "finished", "stopped", "cancelled", "error_unmarshal", "error_resolve"
	)
	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storybook_worker_task_duration_seconds",
		Help:    "Duration of scene batch task processing.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
	publishResultErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_worker_publish_result_errors_total",
		Help: "Total number of errors publishing batch results.",
	})
)

// MetricsPusher отправляет метрики в Pushgateway.
type MetricsPusher interface {
	Push() error
}

// NewPusher создает pusher с группировкой по hostname.
func NewPusher(pushGatewayURL, job string, logger *zap.Logger) *push.Pusher {
	hostname, _ := os.Hostname()
	pusher := push.New(pushGatewayURL, job).
		Grouping("instance", hostname).
		Gatherer(prometheus.DefaultGatherer)
	logger.Info("Prometheus Pusher initialized", zap.String("url", pushGatewayURL), zap.String("instance", hostname))
	return pusher
}

// Handler выполняет задачи пакетной генерации из очереди.
type Handler struct {
	logger          *zap.Logger
	books           service.BookStore
	generate        service.SceneGenerateFunc
	runner          *batch.Runner
	resultPublisher messaging.Publisher
	stopFlags       batch.StopFlags
	stopPoll        time.Duration
	pusher          MetricsPusher
}

// NewHandler создает обработчик. stopFlags и pusher могут быть nil.
func NewHandler(
	logger *zap.Logger,
	books service.BookStore,
	generate service.SceneGenerateFunc,
	runner *batch.Runner,
	resultPublisher messaging.Publisher,
	stopFlags batch.StopFlags,
	pusher MetricsPusher,
) *Handler {
	return &Handler{
		logger:          logger.Named("BatchWorker"),
		books:           books,
		generate:        generate,
		runner:          runner,
		resultPublisher: resultPublisher,
		stopFlags:       stopFlags,
		stopPoll:        time.Second,
		pusher:          pusher,
	}
}

// SetStopPoll задает период опроса флага останова.
func (h *Handler) SetStopPoll(d time.Duration) {
	if d > 0 {
		h.stopPoll = d
	}
}

var _ messaging.DeliveryHandler = (*Handler)(nil)

// HandleDelivery обрабатывает одну задачу. Всегда подтверждает сообщение:
// ошибки сцен уходят в результаты, повтор задачи целиком не нужен.
func (h *Handler) HandleDelivery(ctx context.Context, msg amqp091.Delivery) bool {
	if h.pusher != nil {
		defer func() {
			if err := h.pusher.Push(); err != nil {
				h.logger.Error("Failed to push metrics to Pushgateway", zap.Error(err))
			}
		}()
	}

	var task messaging.SceneBatchTaskPayload
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		h.logger.Error("Failed to unmarshal batch task", zap.Error(err), zap.String("correlation_id", msg.CorrelationId))
		tasksProcessed.WithLabelValues("error_unmarshal").Inc()
		return true
	}
	log := h.logger.With(
		zap.String("task_id", task.TaskID),
		zap.String("job_id", task.JobID),
		zap.String("book_slug", task.BookSlug),
		zap.String("story_id", task.StoryID),
	)
	log.Info("Received scene batch task", zap.Int("scene_ids", len(task.SceneIDs)))

	start := time.Now()
	defer func() { taskDuration.Observe(time.Since(start).Seconds()) }()

	job, err := h.resolveJob(ctx, task)
	if err != nil {
		log.Error("Failed to resolve batch task", zap.Error(err))
		tasksProcessed.WithLabelValues("error_resolve").Inc()
		h.publish(ctx, task, batch.Progress{JobID: task.JobID, Total: len(task.SceneIDs), Status: batch.StatusCancelled, Error: err.Error()}, log)
		return true
	}

	if h.stopFlags != nil {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go batch.WatchStop(watchCtx, h.stopFlags, job, h.stopPoll, log)
	}

	req := service.BatchRequest{
		BookSlug:      task.BookSlug,
		StoryID:       task.StoryID,
		Model:         task.Model,
		AspectRatio:   task.AspectRatio,
		ApplyOverlays: task.ApplyOverlays,
	}
	sum := h.runner.Run(ctx, job, service.SceneFunc(h.generate, req), func(p batch.Progress) {
		h.publish(ctx, task, p, log)
	})
	tasksProcessed.WithLabelValues(string(sum.Status)).Inc()
	log.Info("Scene batch task processed",
		zap.String("status", string(sum.Status)),
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed),
	)
	return true
}

func (h *Handler) resolveJob(ctx context.Context, task messaging.SceneBatchTaskPayload) (*batch.Job, error) {
	if task.JobID == "" || task.BookSlug == "" || task.StoryID == "" {
		return nil, fmt.Errorf("%w: jobId, bookSlug and storyId are required", domain.ErrInvalidInput)
	}
	res := h.books.LoadBook(ctx, task.BookSlug)
	if !res.Success {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, fmt.Errorf("failed to load book %s: %s", task.BookSlug, res.Error)
	}
	story, ok := res.Book.FindStory(task.StoryID)
	if !ok {
		return nil, fmt.Errorf("%w: story %s", domain.ErrNotFound, task.StoryID)
	}
	scenes, err := service.SelectScenes(story, task.SceneIDs)
	if err != nil {
		return nil, err
	}
	return &batch.Job{ID: task.JobID, BookID: res.Book.ID, StoryID: story.ID, Scenes: scenes}, nil
}

func (h *Handler) publish(ctx context.Context, task messaging.SceneBatchTaskPayload, p batch.Progress, log *zap.Logger) {
	payload := messaging.SceneBatchResultPayload{
		TaskID:   task.TaskID,
		JobID:    p.JobID,
		SceneID:  p.SceneID,
		Index:    p.Index,
		Total:    p.Total,
		Status:   messaging.ResultStatus(p.Status),
		ImageURL: p.ImageURL,
		Error:    p.Error,
	}
	if err := h.resultPublisher.Publish(ctx, payload, task.JobID); err != nil {
		publishResultErrors.Inc()
		log.Error("Failed to publish batch result", zap.String("scene_id", p.SceneID), zap.Error(err))
	}
}
