package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storybook-server/internal/imageapi"
)

const maxCharacterImage = 20 << 20

// uploadCharacterImage сохраняет изображение персонажа. Принимает multipart
// поле "file" или сырое тело. id изображения берется из ?id или генерируется.
func (h *Handler) uploadCharacterImage(c *gin.Context) {
	storageKey, name := c.Param("storageKey"), c.Param("name")
	imageID := c.Query("id")
	if imageID == "" {
		imageID = uuid.NewString()
	}

	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "multipart field \"file\" is required")
			return
		}
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "failed to open uploaded file")
			return
		}
		defer f.Close()
		src = f
	}
	data, err := io.ReadAll(io.LimitReader(src, maxCharacterImage+1))
	if err != nil {
		badRequest(c, "failed to read image")
		return
	}
	if len(data) == 0 {
		badRequest(c, "image is empty")
		return
	}
	if len(data) > maxCharacterImage {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "image is too large"})
		return
	}
	if _, _, err := imageapi.CheckImage(data); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.characters.Put(c.Request.Context(), storageKey, name, imageID, data); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	h.logger.Info("Character image stored",
		zap.String("storage_key", storageKey),
		zap.String("character", name),
		zap.String("image_id", imageID),
		zap.Int("size_bytes", len(data)),
	)
	c.JSON(http.StatusCreated, gin.H{"imageId": imageID, "storageKey": storageKey, "name": name})
}

type selectDirectoryRequest struct {
	Path string `json:"path" binding:"required"`
}

func (h *Handler) directoryStatus(c *gin.Context) {
	if h.directory == nil {
		c.JSON(http.StatusOK, gin.H{"selectable": false, "selected": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selectable": true, "selected": h.directory.Selected()})
}

func (h *Handler) selectDirectory(c *gin.Context) {
	if h.directory == nil {
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{Error: "storage backend does not support directory selection"})
		return
	}
	var req selectDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "path is required")
		return
	}
	if err := h.directory.SelectDirectory(req.Path); err != nil {
		h.logger.Warn("Failed to select storage directory", zap.String("path", req.Path), zap.Error(err))
		badRequest(c, err.Error())
		return
	}
	h.logger.Info("Storage directory selected", zap.String("path", req.Path))
	c.JSON(http.StatusOK, gin.H{"selectable": true, "selected": true})
}
