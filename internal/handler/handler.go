package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/batch"
	"storybook-server/internal/charimage"
	"storybook-server/internal/domain"
	"storybook-server/internal/migration"
	"storybook-server/internal/repository"
	"storybook-server/internal/service"
	"storybook-server/internal/storage"
)

// BookService - операции над книгами в хранилище.
type BookService interface {
	LoadBook(ctx context.Context, slug string) storage.LoadResult
	SaveBook(ctx context.Context, book *domain.Book) storage.SaveResult
	ListBooks(ctx context.Context) ([]storage.BookSummary, error)
	DeleteBook(ctx context.Context, slug string) storage.SaveResult
}

// SceneService - генерация изображения одной сцены и ее история.
type SceneService interface {
	GenerateScene(ctx context.Context, req service.GenerateRequest) (*service.GenerateResult, error)
	History(ctx context.Context, slug, storyID, sceneID string) ([]repository.HistoryRecord, error)
}

// BatchService - пакетная генерация.
type BatchService interface {
	Start(ctx context.Context, req service.BatchRequest) (*batch.Job, error)
	Stop(ctx context.Context, jobID string) error
	Subscribe(jobID string) (<-chan batch.Progress, func(), error)
}

// DataMigrator приводит старые сохранения к текущему формату.
type DataMigrator interface {
	MigrateData(raw any) migration.Result
	LoadLegacy(ctx context.Context, src migration.LegacySource) (migration.Result, string, error)
}

// DirectorySelector - бэкенд, которому нужно явно выбрать каталог.
type DirectorySelector interface {
	SelectDirectory(dir string) error
	Selected() bool
}

var (
	_ BookService       = (*storage.FileStorage)(nil)
	_ SceneService      = (*service.GenerationService)(nil)
	_ BatchService      = (*service.BatchService)(nil)
	_ DataMigrator      = (*migration.Service)(nil)
	_ DirectorySelector = (*storage.HandleBackend)(nil)
)

// Handler обрабатывает HTTP запросы API книг и генерации.
type Handler struct {
	books      BookService
	scenes     SceneService
	batches    BatchService
	migrator   DataMigrator
	characters charimage.Store
	legacy     migration.LegacySource
	directory  DirectorySelector
	locker     service.BookLocker
	logger     *zap.Logger
}

// Option настраивает необязательные зависимости Handler.
type Option func(*Handler)

// WithLegacySource включает импорт старых сохранений.
func WithLegacySource(src migration.LegacySource) Option {
	return func(h *Handler) { h.legacy = src }
}

// WithDirectorySelector включает выбор каталога хранилища.
func WithDirectorySelector(d DirectorySelector) Option {
	return func(h *Handler) { h.directory = d }
}

// WithBookLocker включает общую с воркерами блокировку книги на запись.
func WithBookLocker(l service.BookLocker) Option {
	return func(h *Handler) { h.locker = l }
}

func New(
	books BookService,
	scenes SceneService,
	batches BatchService,
	migrator DataMigrator,
	characters charimage.Store,
	logger *zap.Logger,
	opts ...Option,
) *Handler {
	h := &Handler{
		books:      books,
		scenes:     scenes,
		batches:    batches,
		migrator:   migrator,
		characters: characters,
		logger:     logger.Named("HTTPHandler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes регистрирует маршруты API.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		books := api.Group("/books")
		books.GET("", h.listBooks)
		books.POST("", h.createBook)
		books.GET("/:slug", h.getBook)
		books.PUT("/:slug", h.saveBook)
		books.DELETE("/:slug", h.deleteBook)

		scenes := books.Group("/:slug/stories/:storyId")
		scenes.POST("/scenes/:sceneId/generate", h.generateScene)
		scenes.GET("/scenes/:sceneId/history", h.sceneHistory)
		scenes.POST("/batch", h.startBatch)

		jobs := api.Group("/jobs")
		jobs.POST("/:id/stop", h.stopJob)
		jobs.GET("/:id/ws", h.streamJob)

		api.POST("/migrate", h.migrate)
		api.POST("/migrate/legacy", h.migrateLegacy)

		api.POST("/characters/:storageKey/:name/images", h.uploadCharacterImage)

		api.GET("/storage/directory", h.directoryStatus)
		api.POST("/storage/directory", h.selectDirectory)
	}
}
