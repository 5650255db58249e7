package batch

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

const subscriberBuffer = 64

type jobEntry struct {
	job     *Job
	history []Progress
	done    bool
	subs    map[int]chan Progress
}

// Registry хранит задания по id и раздает их прогресс подписчикам.
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*jobEntry
	nextID int
	logger *zap.Logger
}

// NewRegistry создает пустой реестр.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{jobs: make(map[string]*jobEntry), logger: logger.Named("JobRegistry")}
}

// Add регистрирует задание.
func (r *Registry) Add(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = &jobEntry{job: job, subs: make(map[int]chan Progress)}
}

// Get возвращает задание по id.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return e.job, nil
}

// Stop выставляет флаг останова задания.
func (r *Registry) Stop(id string) error {
	job, err := r.Get(id)
	if err != nil {
		return err
	}
	job.Stop()
	r.logger.Info("Job stop requested", zap.String("job_id", id))
	return nil
}

// Publish сохраняет событие и рассылает его подписчикам. Медленный подписчик
// пропускает события, а не тормозит задание. Терминальное событие закрывает подписки.
func (r *Registry) Publish(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[p.JobID]
	if !ok || e.done {
		return
	}
	e.history = append(e.history, p)
	for id, ch := range e.subs {
		select {
		case ch <- p:
		default:
			r.logger.Warn("Subscriber queue is full, dropping progress event",
				zap.String("job_id", p.JobID), zap.Int("subscriber", id))
		}
	}
	if p.Status.Terminal() {
		e.done = true
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
	}
}

// Subscribe возвращает канал событий задания, начиная с уже случившихся,
// и функцию отписки. Канал закрывается по завершении задания.
func (r *Registry) Subscribe(id string) (<-chan Progress, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}

	ch := make(chan Progress, max(subscriberBuffer, len(e.history)+1))
	for _, p := range e.history {
		ch <- p
	}
	if e.done {
		close(ch)
		return ch, func() {}, nil
	}

	subID := r.nextID
	r.nextID++
	e.subs[subID] = ch
	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := e.subs[subID]; ok {
			close(c)
			delete(e.subs, subID)
		}
	}
	return ch, unsubscribe, nil
}

// Remove удаляет завершенное задание из реестра.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[id]; ok && e.done {
		delete(r.jobs, id)
	}
}
