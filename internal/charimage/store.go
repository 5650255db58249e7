package charimage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

// Store - хранилище изображений персонажей.
// Ключ хранилища: id истории или "book:<bookID>" для книжных персонажей.
type Store interface {
	Get(ctx context.Context, storageKey, characterName, imageID string) ([]byte, error)
	Put(ctx context.Context, storageKey, characterName, imageID string, data []byte) error
}

// Compile-time check
var _ Store = (*FileStore)(nil)

// FileStore хранит изображения в дереве каталогов <root>/<key>/<name>/<id>.img.
type FileStore struct {
	root   string
	logger *zap.Logger
}

// NewFileStore создает файловое хранилище изображений персонажей.
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: character image root is empty", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create character image root: %w", err)
	}
	return &FileStore{root: root, logger: logger.Named("CharImageFileStore")}, nil
}

func (s *FileStore) path(storageKey, characterName, imageID string) string {
	return filepath.Join(s.root, sanitize(storageKey), sanitize(characterName), sanitize(imageID)+".img")
}

// Get читает байты изображения.
func (s *FileStore) Get(ctx context.Context, storageKey, characterName, imageID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.path(storageKey, characterName, imageID)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: character image %s/%s/%s", domain.ErrNotFound, storageKey, characterName, imageID)
		}
		s.logger.Error("Failed to read character image", zap.String("path", p), zap.Error(err))
		return nil, fmt.Errorf("failed to read character image: %w", err)
	}
	return data, nil
}

// Put сохраняет байты изображения, перезаписывая существующие.
func (s *FileStore) Put(ctx context.Context, storageKey, characterName, imageID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.path(storageKey, characterName, imageID)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create character image dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		s.logger.Error("Failed to write character image", zap.String("path", p), zap.Error(err))
		return fmt.Errorf("failed to write character image: %w", err)
	}
	s.logger.Debug("Character image stored", zap.String("path", p), zap.Int("size_bytes", len(data)))
	return nil
}

// sanitize обратимо экранирует сегмент пути: "book:x" и "book_x" дают
// разные каталоги. Пустой сегмент - "%", QueryEscape такого не выдает.
func sanitize(segment string) string {
	s := strings.TrimSpace(segment)
	switch s {
	case "":
		return "%"
	case ".", "..":
		return strings.ReplaceAll(s, ".", "%2E")
	}
	return url.QueryEscape(s)
}
