package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/repository"
	"storybook-server/internal/scene"
	"storybook-server/internal/storage"
)

// BookStore - хранилище книг.
type BookStore interface {
	LoadBook(ctx context.Context, slug string) storage.LoadResult
	SaveBook(ctx context.Context, book *domain.Book) storage.SaveResult
}

// SceneGenerator - конвейер генерации кадра сцены.
type SceneGenerator interface {
	GenerateCompleteSceneImage(ctx context.Context, opts scene.Options) (scene.Result, error)
}

// ImageSaver сохраняет изображение и возвращает его публичный URL.
type ImageSaver interface {
	Save(ctx context.Context, ref, imageURL string) (string, error)
}

// BookLocker - блокировка книги между процессами.
type BookLocker interface {
	Lock(ctx context.Context, slug string) (unlock func(), err error)
}

var (
	_ BookStore      = (*storage.FileStorage)(nil)
	_ SceneGenerator = (*scene.Service)(nil)
	_ BookLocker     = (*storage.RedisBookLocker)(nil)
)

// GenerateRequest - запрос генерации изображения сцены.
type GenerateRequest struct {
	BookSlug      string `json:"-"`
	StoryID       string `json:"-"`
	SceneID       string `json:"-"`
	Model         string `json:"model"`
	AspectRatio   string `json:"aspectRatio"`
	ApplyOverlays bool   `json:"applyOverlays"`
}

// GenerateResult - итог генерации с сохраненной записью истории.
type GenerateResult struct {
	Image        domain.GeneratedImage `json:"image"`
	Stage        string                `json:"stage"`
	Degraded     bool                  `json:"degraded"`
	OverlayError string                `json:"overlayError,omitempty"`
	Slug         string                `json:"slug"`
}

// GenerationService генерирует изображение сцены, сохраняет файл, дописывает
// историю и делает изображение текущим для сцены.
type GenerationService struct {
	books     BookStore
	generator SceneGenerator
	images    ImageSaver
	history   repository.ImageHistoryRepository
	logger    *zap.Logger

	// сериализует чтение-изменение-запись одной книги внутри процесса
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	shared BookLocker
}

// GenerationOption настраивает GenerationService.
type GenerationOption func(*GenerationService)

// WithBookLocker добавляет блокировку между процессами поверх локальной.
func WithBookLocker(l BookLocker) GenerationOption {
	return func(s *GenerationService) { s.shared = l }
}

func NewGenerationService(
	books BookStore,
	generator SceneGenerator,
	images ImageSaver,
	history repository.ImageHistoryRepository,
	logger *zap.Logger,
	opts ...GenerationOption,
) *GenerationService {
	s := &GenerationService{
		books:     books,
		generator: generator,
		images:    images,
		history:   history,
		logger:    logger.Named("GenerationService"),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GenerationService) bookLock(slug string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[slug]
	if !ok {
		l = &sync.Mutex{}
		s.locks[slug] = l
	}
	return l
}

func (s *GenerationService) loadBook(ctx context.Context, slug string) (*domain.Book, error) {
	res := s.books.LoadBook(ctx, slug)
	if !res.Success {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, fmt.Errorf("failed to load book %s: %s", slug, res.Error)
	}
	return res.Book, nil
}

// GenerateScene выполняет полный цикл для одной сцены.
func (s *GenerationService) GenerateScene(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	log := s.logger.With(
		zap.String("book_slug", req.BookSlug),
		zap.String("story_id", req.StoryID),
		zap.String("scene_id", req.SceneID),
	)

	book, err := s.loadBook(ctx, req.BookSlug)
	if err != nil {
		return nil, err
	}
	story, ok := book.FindStory(req.StoryID)
	if !ok {
		return nil, fmt.Errorf("%w: story %s", domain.ErrNotFound, req.StoryID)
	}
	sc, ok := story.FindScene(req.SceneID)
	if !ok {
		return nil, fmt.Errorf("%w: scene %s", domain.ErrNotFound, req.SceneID)
	}

	res, err := s.generator.GenerateCompleteSceneImage(ctx, scene.Options{
		SceneRequest: scene.SceneRequest{
			Scene:       *sc,
			Story:       story,
			Book:        book,
			Model:       req.Model,
			AspectRatio: req.AspectRatio,
		},
		ApplyOverlays: req.ApplyOverlays,
	})
	if err != nil {
		return nil, err
	}

	imageID := uuid.NewString()
	publicURL, err := s.images.Save(ctx, imageID, res.URL)
	if err != nil {
		log.Error("Failed to persist generated image", zap.Error(err))
		return nil, err
	}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = book.AspectRatio
	}
	rec := &repository.HistoryRecord{
		GeneratedImage: domain.GeneratedImage{
			ID:          imageID,
			SceneID:     sc.ID,
			Model:       req.Model,
			AspectRatio: aspect,
			PromptHash:  res.Base.PromptHash,
			URL:         publicURL,
			Timestamp:   time.Now().UTC(),
		},
		BookSlug: req.BookSlug,
		StoryID:  story.ID,
		Stage:    res.Stage.String(),
		Degraded: res.Degraded,
	}
	if err := s.history.Append(ctx, rec); err != nil {
		return nil, err
	}

	slug, err := s.setCurrentImage(ctx, req.BookSlug, story.ID, sc.ID, rec.GeneratedImage)
	if err != nil {
		return nil, err
	}

	out := &GenerateResult{
		Image:    rec.GeneratedImage,
		Stage:    rec.Stage,
		Degraded: res.Degraded,
		Slug:     slug,
	}
	if res.OverlayErr != nil {
		out.OverlayError = res.OverlayErr.Error()
	}
	log.Info("Scene image generated",
		zap.String("image_id", imageID),
		zap.String("stage", rec.Stage),
		zap.Bool("degraded", res.Degraded),
	)
	return out, nil
}

// setCurrentImage перечитывает книгу под блокировкой, чтобы не затереть
// правки, сделанные во время генерации. С BookLocker блокировка общая для
// сервера и воркеров.
func (s *GenerationService) setCurrentImage(ctx context.Context, slug, storyID, sceneID string, img domain.GeneratedImage) (string, error) {
	l := s.bookLock(slug)
	l.Lock()
	defer l.Unlock()
	if s.shared != nil {
		unlock, err := s.shared.Lock(ctx, slug)
		if err != nil {
			s.logger.Error("Failed to lock book for update", zap.String("book_slug", slug), zap.Error(err))
			return "", err
		}
		defer unlock()
	}

	book, err := s.loadBook(ctx, slug)
	if err != nil {
		return "", err
	}
	story, ok := book.FindStory(storyID)
	if !ok {
		return "", fmt.Errorf("%w: story %s was removed during generation", domain.ErrNotFound, storyID)
	}
	sc, ok := story.FindScene(sceneID)
	if !ok {
		return "", fmt.Errorf("%w: scene %s was removed during generation", domain.ErrNotFound, sceneID)
	}
	sc.ImageHistory = append(sc.ImageHistory, img)
	sc.CurrentImageID = img.ID
	sc.UpdatedAt = img.Timestamp

	saved := s.books.SaveBook(ctx, book)
	if !saved.Success {
		if saved.Err != nil {
			return "", saved.Err
		}
		return "", fmt.Errorf("failed to save book %s: %s", slug, saved.Error)
	}
	return saved.Slug, nil
}

// History возвращает историю изображений сцены.
func (s *GenerationService) History(ctx context.Context, slug, storyID, sceneID string) ([]repository.HistoryRecord, error) {
	return s.history.ListByScene(ctx, slug, storyID, sceneID)
}
