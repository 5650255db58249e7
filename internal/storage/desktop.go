package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

var _ Backend = (*DesktopBackend)(nil)

// DesktopBackend работает с каталогом локального диска. Запись атомарная
// (временный файл + rename) и сериализована по пути.
type DesktopBackend struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDesktopBackend создает backend с корнем root (каталог создается при необходимости).
func NewDesktopBackend(root string, logger *zap.Logger) (*DesktopBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &DesktopBackend{
		root:   root,
		logger: logger.Named("DesktopBackend"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Root возвращает корневой каталог.
func (b *DesktopBackend) Root() string { return b.root }

func (b *DesktopBackend) abs(p string) (string, string, error) {
	c, err := cleanPath(p)
	if err != nil {
		return "", "", err
	}
	return c, filepath.Join(b.root, filepath.FromSlash(c)), nil
}

func (b *DesktopBackend) lock(p string) func() {
	b.mu.Lock()
	l, ok := b.locks[p]
	if !ok {
		l = &sync.Mutex{}
		b.locks[p] = l
	}
	b.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func notFound(err error, p string) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, p)
	}
	return err
}

func (b *DesktopBackend) ReadFile(_ context.Context, p string) ([]byte, error) {
	key, full, err := b.abs(p)
	if err != nil {
		return nil, err
	}
	unlock := b.lock(key)
	defer unlock()
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, notFound(err, p)
	}
	return data, nil
}

func (b *DesktopBackend) WriteFile(_ context.Context, p string, data []byte) error {
	key, full, err := b.abs(p)
	if err != nil {
		return err
	}
	unlock := b.lock(key)
	defer unlock()

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	b.logger.Debug("File written", zap.String("path", key), zap.Int("size_bytes", len(data)))
	return nil
}

func (b *DesktopBackend) ListDir(_ context.Context, p string) ([]Entry, error) {
	_, full, err := b.abs(p)
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(full)
	if err != nil {
		return nil, notFound(err, p)
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		out = append(out, Entry{Name: it.Name(), IsDir: it.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *DesktopBackend) MkdirAll(_ context.Context, p string) error {
	_, full, err := b.abs(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o755)
}

func (b *DesktopBackend) RemoveAll(_ context.Context, p string) error {
	key, full, err := b.abs(p)
	if err != nil {
		return err
	}
	if key == "." {
		return fmt.Errorf("%w: refusing to remove storage root", domain.ErrInvalidInput)
	}
	return os.RemoveAll(full)
}

func (b *DesktopBackend) Exists(_ context.Context, p string) (bool, error) {
	_, full, err := b.abs(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
