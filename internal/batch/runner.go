package batch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

var batchScenes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storybook_batch_scenes_processed_total",
		Help: "Total number of scenes processed by batch jobs.",
	},
	[]string{"status"}, // "completed", "failed"
)

// Status - состояние сцены или задания в событии прогресса.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusFinished  Status = "finished"
	StatusStopped   Status = "stopped"
	StatusCancelled Status = "cancelled"
)

// Terminal сообщает, что событие завершает задание.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusStopped || s == StatusCancelled
}

// Progress - событие о ходе пакетной генерации.
type Progress struct {
	JobID    string `json:"jobId"`
	SceneID  string `json:"sceneId,omitempty"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
	Status   Status `json:"status"`
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Job - пакетная генерация сцен одной истории.
type Job struct {
	ID      string
	BookID  string
	StoryID string
	Scenes  []domain.Scene

	stop atomic.Bool
}

// NewJob создает задание с новым id.
func NewJob(bookID, storyID string, scenes []domain.Scene) *Job {
	return &Job{ID: uuid.NewString(), BookID: bookID, StoryID: storyID, Scenes: scenes}
}

// Stop просит не начинать следующие сцены. Текущая генерация не прерывается.
func (j *Job) Stop() { j.stop.Store(true) }

// Stopped сообщает, был ли запрошен останов.
func (j *Job) Stopped() bool { return j.stop.Load() }

// SceneFunc генерирует изображение одной сцены и возвращает его URL.
type SceneFunc func(ctx context.Context, sc domain.Scene) (string, error)

// Summary - итог задания.
type Summary struct {
	Completed int
	Failed    int
	Status    Status
}

// Runner выполняет сцены строго по очереди с фиксированной паузой между ними.
type Runner struct {
	delay  time.Duration
	logger *zap.Logger
}

// NewRunner создает Runner. delay <= 0 отключает паузу.
func NewRunner(delay time.Duration, logger *zap.Logger) *Runner {
	return &Runner{delay: delay, logger: logger.Named("BatchRunner")}
}

// Run обрабатывает сцены задания. Ошибка сцены записывается в событие,
// и обработка продолжается.
func (r *Runner) Run(ctx context.Context, job *Job, fn SceneFunc, onProgress func(Progress)) Summary {
	log := r.logger.With(zap.String("job_id", job.ID), zap.String("story_id", job.StoryID))
	emit := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	total := len(job.Scenes)
	sum := Summary{Status: StatusFinished}
	log.Info("Batch generation started", zap.Int("scenes", total))

	for i, sc := range job.Scenes {
		// пауза отсчитывается от конца предыдущей сцены
		if i > 0 && !r.pause(ctx) {
			sum.Status = StatusCancelled
			break
		}
		if job.Stopped() {
			sum.Status = StatusStopped
			break
		}
		if ctx.Err() != nil {
			sum.Status = StatusCancelled
			break
		}

		p := Progress{JobID: job.ID, SceneID: sc.ID, Index: i, Total: total}
		url, err := fn(ctx, sc)
		if err != nil {
			sum.Failed++
			batchScenes.WithLabelValues(string(StatusFailed)).Inc()
			log.Warn("Scene generation failed in batch", zap.String("scene_id", sc.ID), zap.Error(err))
			p.Status, p.Error = StatusFailed, err.Error()
		} else {
			sum.Completed++
			batchScenes.WithLabelValues(string(StatusCompleted)).Inc()
			p.Status, p.ImageURL = StatusCompleted, url
		}
		emit(p)
	}

	log.Info("Batch generation finished",
		zap.String("status", string(sum.Status)),
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed),
	)
	emit(Progress{JobID: job.ID, Index: sum.Completed + sum.Failed, Total: total, Status: sum.Status})
	return sum
}

// pause ждет r.delay. false - ctx отменен.
func (r *Runner) pause(ctx context.Context) bool {
	if r.delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
