package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

func (h *Handler) listBooks(c *gin.Context) {
	books, err := h.books.ListBooks(c.Request.Context())
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

func (h *Handler) getBook(c *gin.Context) {
	res := h.books.LoadBook(c.Request.Context(), c.Param("slug"))
	if !res.Success {
		handleServiceError(c, resultError(res.Err, res.Error), h.logger)
		return
	}
	c.JSON(http.StatusOK, res.Book)
}

func (h *Handler) createBook(c *gin.Context) {
	var book domain.Book
	if err := c.ShouldBindJSON(&book); err != nil {
		h.logger.Warn("Invalid request body for createBook", zap.Error(err))
		badRequest(c, "invalid book payload")
		return
	}
	res := h.books.SaveBook(c.Request.Context(), &book)
	if !res.Success {
		handleServiceError(c, resultError(res.Err, res.Error), h.logger)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// saveBook перезаписывает книгу. Без id в теле берется id книги по slug,
// так переименование книги меняет каталог, а не создает копию.
func (h *Handler) saveBook(c *gin.Context) {
	slug := c.Param("slug")
	var book domain.Book
	if err := c.ShouldBindJSON(&book); err != nil {
		h.logger.Warn("Invalid request body for saveBook", zap.String("slug", slug), zap.Error(err))
		badRequest(c, "invalid book payload")
		return
	}
	ctx := c.Request.Context()
	unlock, err := h.lockBook(ctx, slug)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	defer unlock()
	if book.ID == "" {
		if existing := h.books.LoadBook(ctx, slug); existing.Success {
			book.ID = existing.Book.ID
		}
	}
	res := h.books.SaveBook(ctx, &book)
	if !res.Success {
		handleServiceError(c, resultError(res.Err, res.Error), h.logger)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) deleteBook(c *gin.Context) {
	slug := c.Param("slug")
	unlock, err := h.lockBook(c.Request.Context(), slug)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	defer unlock()
	res := h.books.DeleteBook(c.Request.Context(), slug)
	if !res.Success {
		handleServiceError(c, resultError(res.Err, res.Error), h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

// lockBook берет общую блокировку книги, если она настроена. Воркер в это
// время не перечитает и не перезапишет книгу.
func (h *Handler) lockBook(ctx context.Context, slug string) (func(), error) {
	if h.locker == nil {
		return func() {}, nil
	}
	unlock, err := h.locker.Lock(ctx, slug)
	if err != nil {
		h.logger.Warn("Failed to lock book for write", zap.String("slug", slug), zap.Error(err))
		return nil, err
	}
	return unlock, nil
}
