package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

var _ Backend = (*HandleBackend)(nil)

// HandleBackend - каталог, выбранный пользователем. До вызова SelectDirectory
// любая операция возвращает domain.ErrNoDirectorySelected. Доступ ограничен
// выбранным каталогом через os.Root.
type HandleBackend struct {
	logger *zap.Logger

	mu   sync.RWMutex
	root *os.Root
}

func NewHandleBackend(logger *zap.Logger) *HandleBackend {
	return &HandleBackend{logger: logger.Named("HandleBackend")}
}

// SelectDirectory открывает каталог dir и делает его корнем. Предыдущий
// корень закрывается.
func (b *HandleBackend) SelectDirectory(dir string) error {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}
	b.mu.Lock()
	prev := b.root
	b.root = root
	b.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	b.logger.Info("Directory selected", zap.String("dir", dir))
	return nil
}

// Selected сообщает, выбран ли каталог.
func (b *HandleBackend) Selected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.root != nil
}

// Close освобождает выбранный каталог.
func (b *HandleBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.root == nil {
		return nil
	}
	err := b.root.Close()
	b.root = nil
	return err
}

func (b *HandleBackend) acquire(p string) (*os.Root, string, func(), error) {
	b.mu.RLock()
	if b.root == nil {
		b.mu.RUnlock()
		return nil, "", nil, domain.ErrNoDirectorySelected
	}
	c, err := cleanPath(p)
	if err != nil {
		b.mu.RUnlock()
		return nil, "", nil, err
	}
	return b.root, c, b.mu.RUnlock, nil
}

func (b *HandleBackend) ReadFile(_ context.Context, p string) ([]byte, error) {
	root, c, release, err := b.acquire(p)
	if err != nil {
		return nil, err
	}
	defer release()
	f, err := root.Open(c)
	if err != nil {
		return nil, notFound(err, p)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (b *HandleBackend) WriteFile(_ context.Context, p string, data []byte) error {
	root, c, release, err := b.acquire(p)
	if err != nil {
		return err
	}
	defer release()
	if dir := path.Dir(c); dir != "." {
		if err := mkdirAllIn(root, dir); err != nil {
			return err
		}
	}
	f, err := root.OpenFile(c, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", p, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return f.Close()
}

func (b *HandleBackend) ListDir(_ context.Context, p string) ([]Entry, error) {
	root, c, release, err := b.acquire(p)
	if err != nil {
		return nil, err
	}
	defer release()
	return readDirIn(root, c, p)
}

func (b *HandleBackend) MkdirAll(_ context.Context, p string) error {
	root, c, release, err := b.acquire(p)
	if err != nil {
		return err
	}
	defer release()
	return mkdirAllIn(root, c)
}

func (b *HandleBackend) RemoveAll(_ context.Context, p string) error {
	root, c, release, err := b.acquire(p)
	if err != nil {
		return err
	}
	defer release()
	if c == "." {
		return fmt.Errorf("%w: refusing to remove storage root", domain.ErrInvalidInput)
	}
	return removeAllIn(root, c)
}

func (b *HandleBackend) Exists(_ context.Context, p string) (bool, error) {
	root, c, release, err := b.acquire(p)
	if err != nil {
		return false, err
	}
	defer release()
	_, err = root.Stat(c)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func readDirIn(root *os.Root, c, p string) ([]Entry, error) {
	f, err := root.Open(c)
	if err != nil {
		return nil, notFound(err, p)
	}
	defer f.Close()
	items, err := f.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", p, err)
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		out = append(out, Entry{Name: it.Name(), IsDir: it.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// mkdirAllIn создает каталоги по одному сегменту: у os.Root нет MkdirAll.
func mkdirAllIn(root *os.Root, c string) error {
	if c == "." {
		return nil
	}
	cur := ""
	for _, seg := range strings.Split(c, "/") {
		cur = path.Join(cur, seg)
		err := root.Mkdir(cur, 0o755)
		if err == nil || errors.Is(err, fs.ErrExist) {
			continue
		}
		return fmt.Errorf("failed to create directory %s: %w", cur, err)
	}
	return nil
}

func removeAllIn(root *os.Root, c string) error {
	info, err := root.Lstat(c)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		entries, err := readDirIn(root, c, c)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := removeAllIn(root, path.Join(c, e.Name)); err != nil {
				return err
			}
		}
	}
	if err := root.Remove(c); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", c, err)
	}
	return nil
}
