package scene

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/imageapi"
	"storybook-server/internal/prompt"
	"storybook-server/internal/reference"
)

const (
	defaultAspectRatio = "3:4"
	fallbackErrMessage = "failed to generate image"
)

// ReferenceLoader загружает референсные изображения каста.
type ReferenceLoader interface {
	Load(ctx context.Context, members []domain.CastMember, storyID, bookID string) reference.Result
}

// ImageFetcher получает и декодирует изображение по URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (image.Image, error)
}

var (
	_ ReferenceLoader = (*reference.Loader)(nil)
	_ ImageFetcher    = (*imageapi.Fetcher)(nil)
)

// SceneRequest - что генерировать.
type SceneRequest struct {
	Scene       domain.Scene
	Story       *domain.Story
	Book        *domain.Book
	Model       string
	AspectRatio string
}

// aspectRatio выбирает соотношение сторон: из запроса, из книги, иначе 3:4.
func (r SceneRequest) aspectRatio() string {
	if r.AspectRatio != "" {
		return r.AspectRatio
	}
	if r.Book != nil && r.Book.AspectRatio != "" {
		return r.Book.AspectRatio
	}
	return defaultAspectRatio
}

// BaseImage - результат вызова генератора без оверлеев.
type BaseImage struct {
	URL            string
	Prompt         string
	PromptHash     string
	ReferenceCount int
}

// Service - генерация изображений сцен.
type Service struct {
	client    imageapi.Client
	refs      ReferenceLoader
	fetcher   ImageFetcher
	renderers Renderers
	logger    *zap.Logger
}

// Option настраивает Service.
type Option func(*Service)

// WithRenderers подменяет отрисовщики панелей.
func WithRenderers(r Renderers) Option {
	return func(s *Service) { s.renderers = r }
}

// NewService создает сервис генерации сцен.
func NewService(client imageapi.Client, refs ReferenceLoader, fetcher ImageFetcher, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		client:    client,
		refs:      refs,
		fetcher:   fetcher,
		renderers: DefaultRenderers(),
		logger:    logger.Named("SceneService"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateSceneImage собирает промпт, загружает референсы и вызывает генератор.
func (s *Service) GenerateSceneImage(ctx context.Context, req SceneRequest) (BaseImage, error) {
	start := time.Now()
	defer func() { generationDuration.WithLabelValues("base").Observe(time.Since(start).Seconds()) }()

	var storyID, bookID string
	if req.Story != nil {
		storyID = req.Story.ID
	}
	if req.Book != nil {
		bookID = req.Book.ID
	}
	log := s.logger.With(
		zap.String("scene_id", req.Scene.ID),
		zap.String("story_id", storyID),
		zap.String("book_id", bookID),
	)

	cast := domain.FilterCast(domain.MergeCast(req.Book, req.Story), req.Scene)
	elements := domain.FilterElements(req.Story, req.Scene)

	// Референсы грузим до промпта: в промпт попадают только реально приложенные
	var refs reference.Result
	if s.refs != nil && len(cast) > 0 {
		refs = s.refs.Load(ctx, cast, storyID, bookID)
	}

	text := prompt.Build(prompt.Input{
		Scene:         req.Scene,
		Story:         req.Story,
		Book:          req.Book,
		Characters:    cast,
		Elements:      elements,
		WithReference: refs.Loaded,
	})
	hash := prompt.Hash(text)
	log = log.With(zap.String("prompt_hash", hash))
	log.Info("Generating scene image...",
		zap.Int("characters", len(cast)),
		zap.Int("references", len(refs.DataURLs)),
	)
	log.Debug("Full prompt for image API", zap.String("prompt", text))

	apiReq := imageapi.Request{
		Prompt:      text,
		AspectRatio: req.aspectRatio(),
		Model:       req.Model,
	}
	if len(refs.DataURLs) > 0 {
		apiReq.ReferenceImages = refs.DataURLs
	}

	resp, err := s.client.Generate(ctx, apiReq)
	if err != nil {
		sceneGenerations.WithLabelValues("error").Inc()
		log.Error("Image API call failed", zap.Error(err))
		return BaseImage{}, fmt.Errorf("%w: %v", domain.ErrImageGenerationFailed, err)
	}
	if !resp.Success || resp.ImageURL == "" {
		msg := resp.Error
		if msg == "" {
			msg = fallbackErrMessage
		}
		sceneGenerations.WithLabelValues("error").Inc()
		log.Error("Image API returned no image", zap.String("api_error", msg))
		return BaseImage{}, fmt.Errorf("%w: %s", domain.ErrImageGenerationFailed, msg)
	}

	sceneGenerations.WithLabelValues("success").Inc()
	log.Info("Scene image generated")
	return BaseImage{
		URL:            resp.ImageURL,
		Prompt:         text,
		PromptHash:     hash,
		ReferenceCount: len(refs.DataURLs),
	}, nil
}
