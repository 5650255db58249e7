package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/service"
)

// generateBody - параметры генерации. Оверлеи включены, если не указано иное.
type generateBody struct {
	Model         string   `json:"model"`
	AspectRatio   string   `json:"aspectRatio"`
	ApplyOverlays *bool    `json:"applyOverlays"`
	SceneIDs      []string `json:"sceneIds"` // только для batch
}

func (b generateBody) overlays() bool {
	return b.ApplyOverlays == nil || *b.ApplyOverlays
}

func (h *Handler) bindGenerateBody(c *gin.Context) (generateBody, bool) {
	var body generateBody
	if c.Request.ContentLength == 0 {
		return body, true
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Warn("Invalid generation request body", zap.String("path", c.Request.URL.Path), zap.Error(err))
		badRequest(c, "invalid generation payload")
		return body, false
	}
	return body, true
}

func (h *Handler) generateScene(c *gin.Context) {
	body, ok := h.bindGenerateBody(c)
	if !ok {
		return
	}
	res, err := h.scenes.GenerateScene(c.Request.Context(), service.GenerateRequest{
		BookSlug:      c.Param("slug"),
		StoryID:       c.Param("storyId"),
		SceneID:       c.Param("sceneId"),
		Model:         body.Model,
		AspectRatio:   body.AspectRatio,
		ApplyOverlays: body.overlays(),
	})
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) sceneHistory(c *gin.Context) {
	records, err := h.scenes.History(c.Request.Context(), c.Param("slug"), c.Param("storyId"), c.Param("sceneId"))
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records})
}

func (h *Handler) startBatch(c *gin.Context) {
	body, ok := h.bindGenerateBody(c)
	if !ok {
		return
	}
	job, err := h.batches.Start(c.Request.Context(), service.BatchRequest{
		BookSlug:      c.Param("slug"),
		StoryID:       c.Param("storyId"),
		SceneIDs:      body.SceneIDs,
		Model:         body.Model,
		AspectRatio:   body.AspectRatio,
		ApplyOverlays: body.overlays(),
	})
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID, "total": len(job.Scenes)})
}

func (h *Handler) stopJob(c *gin.Context) {
	if err := h.batches.Stop(c.Request.Context(), c.Param("id")); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": c.Param("id"), "stopRequested": true})
}
