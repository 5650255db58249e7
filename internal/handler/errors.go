package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/storage"
)

// ErrorResponse - тело ответа об ошибке.
type ErrorResponse struct {
	Error string `json:"error"`
}

func handleServiceError(c *gin.Context, err error, logger *zap.Logger) {
	var status int
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedDiagram):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoDirectorySelected), errors.Is(err, storage.ErrLockTimeout):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrImageGenerationFailed):
		status = http.StatusBadGateway
	default:
		logger.Error("Unhandled internal error", zap.Error(err), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "An unexpected internal error occurred"})
		return
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}

// resultError восстанавливает error из структурного результата хранилища.
func resultError(err error, message string) error {
	if err != nil {
		return err
	}
	return errors.New(message)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: message})
}
