package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"storybook-server/internal/domain"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend хранит файлы в памяти. Каталоги неявные: каталог существует,
// если под ним есть хотя бы один файл или он создан через MkdirAll.
type MemoryBackend struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]struct{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		files: make(map[string][]byte),
		dirs:  map[string]struct{}{".": {}},
	}
}

func (b *MemoryBackend) ReadFile(_ context.Context, p string) ([]byte, error) {
	c, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.files[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, p)
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) WriteFile(_ context.Context, p string, data []byte) error {
	c, err := cleanPath(p)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mkdirs(path.Dir(c))
	b.files[c] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) ListDir(_ context.Context, p string) ([]Entry, error) {
	c, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.dirs[c]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, p)
	}
	seen := map[string]bool{}
	var out []Entry
	add := func(child string, isDir bool) {
		rest, ok := under(c, child)
		if !ok || rest == "" {
			return
		}
		name, _, nested := strings.Cut(rest, "/")
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, Entry{Name: name, IsDir: isDir || nested})
	}
	for d := range b.dirs {
		add(d, true)
	}
	for f := range b.files {
		add(f, false)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *MemoryBackend) MkdirAll(_ context.Context, p string) error {
	c, err := cleanPath(p)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mkdirs(c)
	return nil
}

func (b *MemoryBackend) RemoveAll(_ context.Context, p string) error {
	c, err := cleanPath(p)
	if err != nil {
		return err
	}
	if c == "." {
		return fmt.Errorf("%w: refusing to remove storage root", domain.ErrInvalidInput)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for f := range b.files {
		if f == c || strings.HasPrefix(f, c+"/") {
			delete(b.files, f)
		}
	}
	for d := range b.dirs {
		if d == c || strings.HasPrefix(d, c+"/") {
			delete(b.dirs, d)
		}
	}
	return nil
}

func (b *MemoryBackend) Exists(_ context.Context, p string) (bool, error) {
	c, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.files[c]; ok {
		return true, nil
	}
	_, ok := b.dirs[c]
	return ok, nil
}

// Paths возвращает все файлы в отсортированном виде.
func (b *MemoryBackend) Paths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.files))
	for f := range b.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (b *MemoryBackend) mkdirs(c string) {
	for c != "." && c != "/" && c != "" {
		b.dirs[c] = struct{}{}
		c = path.Dir(c)
	}
}

// under возвращает часть child после каталога dir.
func under(dir, child string) (string, bool) {
	if dir == "." {
		if child == "." {
			return "", false
		}
		return child, true
	}
	if !strings.HasPrefix(child, dir+"/") {
		return "", false
	}
	return strings.TrimPrefix(child, dir+"/"), true
}
