package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

func sampleBook() *domain.Book {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Book{
		ID:          "book-1",
		Title:       "The Lantern Book!",
		AspectRatio: "3:4",
		Style: domain.BookStyle{
			ArtStyle:     "watercolor",
			ColorPalette: "warm amber",
		},
		Characters: []domain.Character{{
			ID:              "c1",
			Name:            "Mira",
			SelectedImageID: "img1",
			ImageGallery: []domain.GalleryImage{
				{ID: "img1", URL: "blob:http://localhost/abc", CreatedAt: ts},
			},
		}},
		Stories: []domain.Story{
			{
				ID:    "s1",
				Title: "Night Market",
				Characters: []domain.Character{{
					ID:           "c2",
					Name:         "Otto",
					ImageGallery: []domain.GalleryImage{{ID: "img2", URL: "data:image/png;base64,AAAA"}},
				}},
				Scenes: []domain.Scene{{ID: "sc1", Title: "Stalls"}, {ID: "sc2", Title: "Rain"}},
			},
			{
				ID:     "s2",
				Title:  "Harbor",
				Scenes: []domain.Scene{{ID: "sc3", Title: "Boats"}},
			},
		},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func TestFileStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewFileStorage(backend, 0, zap.NewNop())

	book := sampleBook()
	res := s.SaveBook(ctx, book)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "the-lantern-book", res.Slug)
	assert.Equal(t, "prompter-cache/books/the-lantern-book", res.Path)

	assert.Equal(t, []string{
		"prompter-cache/books/the-lantern-book/book.json",
		"prompter-cache/books/the-lantern-book/stories/harbor.json",
		"prompter-cache/books/the-lantern-book/stories/night-market.json",
	}, backend.Paths())

	// входная книга не меняется
	assert.Equal(t, "blob:http://localhost/abc", book.Characters[0].ImageGallery[0].URL)

	loaded := s.LoadBook(ctx, res.Slug)
	require.True(t, loaded.Success, loaded.Error)
	got := loaded.Book
	assert.Equal(t, book.Title, got.Title)
	assert.Equal(t, book.Style, got.Style)
	require.Len(t, got.Stories, 2)
	assert.Equal(t, "Night Market", got.Stories[0].Title)
	assert.Len(t, got.Stories[0].Scenes, 2)
	assert.Len(t, got.Stories[1].Scenes, 1)

	require.Len(t, got.Characters, 1)
	assert.Empty(t, got.Characters[0].ImageGallery[0].URL)
	assert.Equal(t, "img1", got.Characters[0].ImageGallery[0].ID)
	assert.Empty(t, got.Stories[0].Characters[0].ImageGallery[0].URL)
}

func TestFileStorage_StorySlugDedup(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewFileStorage(backend, 0, zap.NewNop())

	book := &domain.Book{ID: "b", Title: "", Stories: []domain.Story{
		{ID: "1", Title: "Chapter One"},
		{ID: "2", Title: "chapter one"},
		{ID: "3", Title: "Chapter  One?"},
		{ID: "4", Title: "Глава"},
	}}
	res := s.SaveBook(ctx, book)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "untitled", res.Slug)

	assert.ElementsMatch(t, []string{
		"prompter-cache/books/untitled/book.json",
		"prompter-cache/books/untitled/stories/chapter-one.json",
		"prompter-cache/books/untitled/stories/chapter-one-2.json",
		"prompter-cache/books/untitled/stories/chapter-one-3.json",
		"prompter-cache/books/untitled/stories/untitled.json",
	}, backend.Paths())

	loaded := s.LoadBook(ctx, "untitled")
	require.True(t, loaded.Success)
	ids := make([]string, 0, 4)
	for _, st := range loaded.Book.Stories {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids)
}

func TestFileStorage_BookSlugConflictAndRename(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewFileStorage(backend, time.Minute, zap.NewNop())

	first := s.SaveBook(ctx, &domain.Book{ID: "a", Title: "Tales"})
	require.True(t, first.Success)
	second := s.SaveBook(ctx, &domain.Book{ID: "b", Title: "Tales"})
	require.True(t, second.Success)
	assert.Equal(t, "tales", first.Slug)
	assert.Equal(t, "tales-2", second.Slug)

	// повторное сохранение той же книги сохраняет slug
	again := s.SaveBook(ctx, &domain.Book{ID: "b", Title: "Tales"})
	assert.Equal(t, "tales-2", again.Slug)

	renamed := s.SaveBook(ctx, &domain.Book{ID: "b", Title: "Other Tales"})
	require.True(t, renamed.Success)
	assert.Equal(t, "other-tales", renamed.Slug)

	exists, err := backend.Exists(ctx, "prompter-cache/books/tales-2")
	require.NoError(t, err)
	assert.False(t, exists)

	list, err := s.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "other-tales", list[0].Slug)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "tales", list[1].Slug)
}

func TestFileStorage_StaleStoriesRemoved(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewFileStorage(backend, 0, zap.NewNop())

	book := sampleBook()
	require.True(t, s.SaveBook(ctx, book).Success)

	book.Stories = book.Stories[:1]
	require.True(t, s.SaveBook(ctx, book).Success)

	exists, err := backend.Exists(ctx, "prompter-cache/books/the-lantern-book/stories/harbor.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileStorage_LoadToleratesMissingStory(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewFileStorage(backend, 0, zap.NewNop())

	require.True(t, s.SaveBook(ctx, sampleBook()).Success)
	require.NoError(t, backend.RemoveAll(ctx, "prompter-cache/books/the-lantern-book/stories/night-market.json"))

	loaded := s.LoadBook(ctx, "the-lantern-book")
	require.True(t, loaded.Success)
	require.Len(t, loaded.Book.Stories, 1)
	assert.Equal(t, "Harbor", loaded.Book.Stories[0].Title)
}

func TestFileStorage_LoadErrors(t *testing.T) {
	ctx := context.Background()
	s := NewFileStorage(NewMemoryBackend(), 0, zap.NewNop())

	res := s.LoadBook(ctx, "missing")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrNotFound)
	assert.NotEmpty(t, res.Error)

	res = s.LoadBook(ctx, "../etc")
	assert.ErrorIs(t, res.Err, domain.ErrInvalidInput)

	del := s.DeleteBook(ctx, "missing")
	assert.False(t, del.Success)
	assert.ErrorIs(t, del.Err, domain.ErrNotFound)
}

func TestFileStorage_CachedBookIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewFileStorage(NewMemoryBackend(), time.Minute, zap.NewNop())
	require.True(t, s.SaveBook(ctx, sampleBook()).Success)

	first := s.LoadBook(ctx, "the-lantern-book")
	require.True(t, first.Success)
	first.Book.Title = "mutated"

	second := s.LoadBook(ctx, "the-lantern-book")
	require.True(t, second.Success)
	assert.Equal(t, "The Lantern Book!", second.Book.Title)
}

func TestFileStorage_Delete(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewFileStorage(backend, time.Minute, zap.NewNop())
	require.True(t, s.SaveBook(ctx, sampleBook()).Success)
	require.True(t, s.LoadBook(ctx, "the-lantern-book").Success)

	res := s.DeleteBook(ctx, "the-lantern-book")
	require.True(t, res.Success)
	assert.Empty(t, backend.Paths())
	assert.ErrorIs(t, s.LoadBook(ctx, "the-lantern-book").Err, domain.ErrNotFound)
}

func TestHandleBackend_NoDirectorySelected(t *testing.T) {
	ctx := context.Background()
	backend := NewHandleBackend(zap.NewNop())
	s := NewFileStorage(backend, 0, zap.NewNop())

	res := s.SaveBook(ctx, sampleBook())
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrNoDirectorySelected)
	assert.Equal(t, "no directory selected", res.Error)

	load := s.LoadBook(ctx, "the-lantern-book")
	assert.ErrorIs(t, load.Err, domain.ErrNoDirectorySelected)

	_, err := s.ListBooks(ctx)
	assert.ErrorIs(t, err, domain.ErrNoDirectorySelected)

	dir := t.TempDir()
	require.NoError(t, backend.SelectDirectory(dir))
	t.Cleanup(func() { backend.Close() })

	res = s.SaveBook(ctx, sampleBook())
	require.True(t, res.Success, res.Error)
	assert.FileExists(t, filepath.Join(dir, "prompter-cache", "books", "the-lantern-book", "stories", "harbor.json"))

	load = s.LoadBook(ctx, res.Slug)
	require.True(t, load.Success, load.Error)
	assert.Len(t, load.Book.Stories, 2)

	del := s.DeleteBook(ctx, res.Slug)
	require.True(t, del.Success, del.Error)
	assert.NoDirExists(t, filepath.Join(dir, "prompter-cache", "books", "the-lantern-book"))
}

func TestHandleBackend_RejectsEscape(t *testing.T) {
	backend := NewHandleBackend(zap.NewNop())
	require.NoError(t, backend.SelectDirectory(t.TempDir()))
	t.Cleanup(func() { backend.Close() })

	_, err := backend.ReadFile(context.Background(), "../outside.json")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDesktopBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewDesktopBackend(dir, zap.NewNop())
	require.NoError(t, err)
	s := NewFileStorage(backend, 0, zap.NewNop())

	res := s.SaveBook(ctx, sampleBook())
	require.True(t, res.Success, res.Error)

	entries, err := os.ReadDir(filepath.Join(dir, "prompter-cache", "books", "the-lantern-book"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}

	load := s.LoadBook(ctx, res.Slug)
	require.True(t, load.Success, load.Error)
	assert.Equal(t, "watercolor", load.Book.Style.ArtStyle)

	assert.Error(t, backend.RemoveAll(ctx, "."))
}

func TestDesktopBackend_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	backend, err := NewDesktopBackend(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, backend.WriteFile(ctx, "a/b/file.json", []byte(`{"ok":true}`)))
		}()
	}
	wg.Wait()

	data, err := backend.ReadFile(ctx, "a/b/file.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"The Lantern Book!", "the-lantern-book"},
		{"  Chapter 1: Start  ", "chapter-1-start"},
		{"---", "untitled"},
		{"", "untitled"},
		{"Café au lait", "caf-au-lait"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

type invalidations struct {
	mu    sync.Mutex
	slugs []string
}

func (i *invalidations) Invalidate(slug string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.slugs = append(i.slugs, slug)
}

func (i *invalidations) has(slug string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, s := range i.slugs {
		if s == slug {
			return true
		}
	}
	return false
}

func TestWatcher_InvalidatesOnExternalEdit(t *testing.T) {
	dir := t.TempDir()
	target := &invalidations{}
	w, err := NewWatcher(dir, target, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	bookDir := filepath.Join(dir, "prompter-cache", "books", "my-book")
	require.NoError(t, os.MkdirAll(bookDir, 0o755))
	assert.Eventually(t, func() bool { return target.has("my-book") }, 2*time.Second, 20*time.Millisecond)
}
