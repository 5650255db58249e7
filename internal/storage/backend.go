package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"storybook-server/internal/domain"
)

// Entry - элемент каталога.
type Entry struct {
	Name  string
	IsDir bool
}

// Backend - файловые операции над деревом каталогов. Пути относительные,
// через "/". Отсутствующий путь дает domain.ErrNotFound.
type Backend interface {
	ReadFile(ctx context.Context, p string) ([]byte, error)
	// WriteFile создает недостающие родительские каталоги.
	WriteFile(ctx context.Context, p string, data []byte) error
	ListDir(ctx context.Context, p string) ([]Entry, error)
	MkdirAll(ctx context.Context, p string) error
	RemoveAll(ctx context.Context, p string) error
	Exists(ctx context.Context, p string) (bool, error)
}

// cleanPath нормализует относительный путь и запрещает выход за корень.
func cleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: absolute path %q", domain.ErrInvalidInput, p)
	}
	c := path.Clean(p)
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: path %q escapes storage root", domain.ErrInvalidInput, p)
	}
	return c, nil
}
