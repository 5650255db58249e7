package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Invalidator сбрасывает кеш книги по slug.
type Invalidator interface {
	Invalidate(slug string)
}

var _ Invalidator = (*FileStorage)(nil)

// Watcher следит за каталогом книг на диске и сбрасывает кеш при внешних
// изменениях. fsnotify не рекурсивен, поэтому каталоги книг и историй
// добавляются по мере появления.
type Watcher struct {
	watcher   *fsnotify.Watcher
	booksRoot string
	target    Invalidator
	logger    *zap.Logger
}

// NewWatcher создает watcher для root - корня DesktopBackend.
func NewWatcher(root string, target Invalidator, logger *zap.Logger) (*Watcher, error) {
	booksRoot := filepath.Join(root, filepath.FromSlash(BooksDir))
	if err := os.MkdirAll(booksRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create books directory: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		watcher:   fw,
		booksRoot: booksRoot,
		target:    target,
		logger:    logger.Named("StorageWatcher"),
	}
	if err := w.addTree(booksRoot); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		// глубже stories/ каталогов нет
		rel, _ := filepath.Rel(w.booksRoot, p)
		if strings.Count(rel, string(filepath.Separator)) > 1 {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		w.logger.Debug("Watching", zap.String("path", p))
		return nil
	})
}

// Run обрабатывает события до отмены ctx.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	w.logger.Info("Storage watcher started", zap.String("root", w.booksRoot))
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		case <-ctx.Done():
			w.logger.Info("Storage watcher stopped")
			return nil
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	slug := w.slugOf(event.Name)
	if slug == "" {
		return
	}
	// временные файлы атомарной записи
	if strings.HasPrefix(filepath.Base(event.Name), ".tmp-") {
		return
	}

	var op string
	switch {
	case event.Has(fsnotify.Create):
		op = "created"
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
	case event.Has(fsnotify.Write):
		op = "modified"
	case event.Has(fsnotify.Remove):
		op = "deleted"
	case event.Has(fsnotify.Rename):
		op = "renamed"
	default:
		return
	}

	w.target.Invalidate(slug)
	w.logger.Debug("Book changed on disk", zap.String("slug", slug), zap.String("op", op), zap.String("path", event.Name))
}

// slugOf возвращает первый сегмент пути внутри каталога книг.
func (w *Watcher) slugOf(p string) string {
	rel, err := filepath.Rel(w.booksRoot, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first
}
