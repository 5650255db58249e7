package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/internal/batch"
	"storybook-server/internal/domain"
	"storybook-server/internal/messaging"
)

const jobRetention = 10 * time.Minute

// BatchRequest - запрос пакетной генерации сцен истории.
type BatchRequest struct {
	BookSlug      string   `json:"-"`
	StoryID       string   `json:"-"`
	SceneIDs      []string `json:"sceneIds"`
	Model         string   `json:"model"`
	AspectRatio   string   `json:"aspectRatio"`
	ApplyOverlays bool     `json:"applyOverlays"`
}

// SceneGenerateFunc - генерация одной сцены (GenerationService.GenerateScene).
type SceneGenerateFunc func(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

// SceneFunc связывает генерацию сцены с пакетным исполнителем.
func SceneFunc(generate SceneGenerateFunc, req BatchRequest) batch.SceneFunc {
	return func(ctx context.Context, sc domain.Scene) (string, error) {
		res, err := generate(ctx, GenerateRequest{
			BookSlug:      req.BookSlug,
			StoryID:       req.StoryID,
			SceneID:       sc.ID,
			Model:         req.Model,
			AspectRatio:   req.AspectRatio,
			ApplyOverlays: req.ApplyOverlays,
		})
		if err != nil {
			return "", err
		}
		return res.Image.URL, nil
	}
}

// SelectScenes возвращает сцены истории в ее порядке. Пустой ids - все сцены.
func SelectScenes(story *domain.Story, ids []string) ([]domain.Scene, error) {
	if len(ids) == 0 {
		if len(story.Scenes) == 0 {
			return nil, fmt.Errorf("%w: story %s has no scenes", domain.ErrInvalidInput, story.ID)
		}
		return append([]domain.Scene(nil), story.Scenes...), nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Scene
	for _, sc := range story.Scenes {
		if want[sc.ID] {
			out = append(out, sc)
			delete(want, sc.ID)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for id := range want {
			missing = append(missing, id)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: scenes %s", domain.ErrNotFound, strings.Join(missing, ", "))
	}
	return out, nil
}

// BatchService запускает пакетную генерацию: в процессе через batch.Runner,
// либо отправкой задачи воркеру, если задан dispatcher.
type BatchService struct {
	books      BookStore
	generate   SceneGenerateFunc
	runner     *batch.Runner
	registry   *batch.Registry
	dispatcher messaging.Publisher
	stopFlags  batch.StopFlags
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// BatchOption настраивает BatchService.
type BatchOption func(*BatchService)

// WithDispatcher отправляет задания в очередь вместо локального запуска.
func WithDispatcher(p messaging.Publisher) BatchOption {
	return func(s *BatchService) { s.dispatcher = p }
}

// WithStopFlags передает останов воркеру через общий флаг.
func WithStopFlags(f batch.StopFlags) BatchOption {
	return func(s *BatchService) { s.stopFlags = f }
}

func NewBatchService(
	books BookStore,
	generate SceneGenerateFunc,
	runner *batch.Runner,
	registry *batch.Registry,
	logger *zap.Logger,
	opts ...BatchOption,
) *BatchService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &BatchService{
		books:    books,
		generate: generate,
		runner:   runner,
		registry: registry,
		logger:   logger.Named("BatchService"),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start создает задание и запускает его. Возвращается сразу, прогресс
// доступен через Subscribe.
func (s *BatchService) Start(ctx context.Context, req BatchRequest) (*batch.Job, error) {
	res := s.books.LoadBook(ctx, req.BookSlug)
	if !res.Success {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, fmt.Errorf("failed to load book %s: %s", req.BookSlug, res.Error)
	}
	story, ok := res.Book.FindStory(req.StoryID)
	if !ok {
		return nil, fmt.Errorf("%w: story %s", domain.ErrNotFound, req.StoryID)
	}
	scenes, err := SelectScenes(story, req.SceneIDs)
	if err != nil {
		return nil, err
	}

	job := batch.NewJob(res.Book.ID, story.ID, scenes)
	s.registry.Add(job)
	log := s.logger.With(zap.String("job_id", job.ID), zap.String("book_slug", req.BookSlug), zap.Int("scenes", len(scenes)))

	if s.dispatcher != nil {
		ids := make([]string, len(scenes))
		for i, sc := range scenes {
			ids[i] = sc.ID
		}
		task := messaging.SceneBatchTaskPayload{
			TaskID:        uuid.NewString(),
			JobID:         job.ID,
			BookSlug:      req.BookSlug,
			StoryID:       story.ID,
			SceneIDs:      ids,
			Model:         req.Model,
			AspectRatio:   req.AspectRatio,
			ApplyOverlays: req.ApplyOverlays,
		}
		if err := s.dispatcher.Publish(ctx, task, job.ID); err != nil {
			s.registry.Publish(batch.Progress{JobID: job.ID, Total: len(scenes), Status: batch.StatusCancelled, Error: err.Error()})
			return nil, fmt.Errorf("failed to enqueue batch job: %w", err)
		}
		log.Info("Batch job enqueued", zap.String("task_id", task.TaskID))
		return job, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runner.Run(s.ctx, job, SceneFunc(s.generate, req), s.registry.Publish)
		time.AfterFunc(jobRetention, func() { s.registry.Remove(job.ID) })
	}()
	log.Info("Batch job started locally")
	return job, nil
}

// Stop просит задание не начинать следующие сцены.
func (s *BatchService) Stop(ctx context.Context, jobID string) error {
	if err := s.registry.Stop(jobID); err != nil {
		return err
	}
	if s.stopFlags != nil {
		return s.stopFlags.Set(ctx, jobID)
	}
	return nil
}

// Subscribe возвращает поток прогресса задания.
func (s *BatchService) Subscribe(jobID string) (<-chan batch.Progress, func(), error) {
	return s.registry.Subscribe(jobID)
}

// HandleResult принимает результаты воркера и публикует их как прогресс.
func (s *BatchService) HandleResult(_ context.Context, msg amqp091.Delivery) bool {
	var payload messaging.SceneBatchResultPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		s.logger.Error("Failed to unmarshal batch result, dropping", zap.Error(err))
		return true
	}
	p := batch.Progress{
		JobID:    payload.JobID,
		SceneID:  payload.SceneID,
		Index:    payload.Index,
		Total:    payload.Total,
		Status:   batch.Status(payload.Status),
		ImageURL: payload.ImageURL,
		Error:    payload.Error,
	}
	s.registry.Publish(p)
	if p.Status.Terminal() {
		time.AfterFunc(jobRetention, func() { s.registry.Remove(p.JobID) })
	}
	return true
}

// Close отменяет локальные задания и ждет их завершения.
func (s *BatchService) Close() {
	s.cancel()
	s.wg.Wait()
}
