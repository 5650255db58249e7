package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/migration"
	"storybook-server/internal/storage"
)

const maxMigrationBody = 32 << 20

type migrateResponse struct {
	Result    migration.Result    `json:"result"`
	SourceKey string              `json:"sourceKey,omitempty"`
	Saved     *storage.SaveResult `json:"saved,omitempty"`
}

// migrate приводит тело запроса к текущему формату. С ?import=true
// результат сохраняется новой книгой с названием из ?title.
func (h *Handler) migrate(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMigrationBody))
	if err != nil {
		badRequest(c, "failed to read request body")
		return
	}
	res := h.migrator.MigrateData(raw)
	h.respondMigration(c, res, "")
}

func (h *Handler) migrateLegacy(c *gin.Context) {
	if h.legacy == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: "legacy data source is not configured"})
		return
	}
	res, key, err := h.migrator.LoadLegacy(c.Request.Context(), h.legacy)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	h.respondMigration(c, res, key)
}

func (h *Handler) respondMigration(c *gin.Context, res migration.Result, key string) {
	out := migrateResponse{Result: res, SourceKey: key}
	if !res.Success {
		h.logger.Warn("Migration failed", zap.Strings("errors", res.Errors), zap.String("from_version", res.FromVersion))
		c.JSON(http.StatusUnprocessableEntity, out)
		return
	}
	if c.Query("import") == "true" {
		saved, err := h.importMigrated(c.Request.Context(), res.Data, c.DefaultQuery("title", "Imported stories"))
		if err != nil {
			handleServiceError(c, err, h.logger)
			return
		}
		out.Saved = &saved
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) importMigrated(ctx context.Context, data migration.AppData, title string) (storage.SaveResult, error) {
	if len(data.Stories) == 0 {
		return storage.SaveResult{}, fmt.Errorf("%w: migrated data has no stories", domain.ErrInvalidInput)
	}
	book := &domain.Book{
		Title:      title,
		Characters: data.Characters,
		Stories:    data.Stories,
		CreatedAt:  data.LastUpdated,
		UpdatedAt:  data.LastUpdated,
	}
	saved := h.books.SaveBook(ctx, book)
	if !saved.Success {
		return saved, resultError(saved.Err, saved.Error)
	}
	h.logger.Info("Migrated data imported as book",
		zap.String("slug", saved.Slug),
		zap.Int("stories", len(data.Stories)),
		zap.Int("characters", len(data.Characters)),
	)
	return saved, nil
}
