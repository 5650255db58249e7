package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

const (
	// BooksDir - корень книг относительно корня backend.
	BooksDir = "prompter-cache/books"

	bookFile   = "book.json"
	storiesDir = "stories"
	maxSlugLen = 60
)

var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// SaveResult - итог сохранения или удаления книги.
type SaveResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Slug    string `json:"slug,omitempty"`
	Path    string `json:"path,omitempty"`
	Err     error  `json:"-"`
}

// LoadResult - итог загрузки книги.
type LoadResult struct {
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
	Book    *domain.Book `json:"book,omitempty"`
	Err     error        `json:"-"`
}

// BookSummary - краткая информация для списка книг.
type BookSummary struct {
	Slug       string    `json:"slug"`
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	StoryCount int       `json:"storyCount"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// bookDocument - содержимое book.json: книга без историй и порядок файлов историй.
type bookDocument struct {
	domain.Book
	StoryFiles []string `json:"storyFiles"`
}

// FileStorage хранит книги деревом каталогов:
//
//	prompter-cache/books/<book-slug>/book.json
//	prompter-cache/books/<book-slug>/stories/<story-slug>.json
type FileStorage struct {
	backend Backend
	cache   *gocache.Cache
	logger  *zap.Logger
}

// NewFileStorage создает хранилище. cacheTTL <= 0 отключает кеш загруженных книг.
func NewFileStorage(backend Backend, cacheTTL time.Duration, logger *zap.Logger) *FileStorage {
	s := &FileStorage{
		backend: backend,
		logger:  logger.Named("FileStorage"),
	}
	if cacheTTL > 0 {
		s.cache = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return s
}

// Backend возвращает используемый backend.
func (s *FileStorage) Backend() Backend { return s.backend }

// Invalidate сбрасывает кешированную книгу.
func (s *FileStorage) Invalidate(slug string) {
	if s.cache != nil {
		s.cache.Delete(slug)
	}
}

func saveFailed(slug string, err error) SaveResult {
	return SaveResult{Error: err.Error(), Slug: slug, Err: err}
}

func loadFailed(err error) LoadResult {
	return LoadResult{Error: err.Error(), Err: err}
}

// SaveBook записывает книгу и ее истории. Если книга с тем же ID лежит под
// другим slug (книгу переименовали), старый каталог удаляется после записи.
func (s *FileStorage) SaveBook(ctx context.Context, book *domain.Book) SaveResult {
	if book == nil {
		return saveFailed("", fmt.Errorf("%w: book is nil", domain.ErrInvalidInput))
	}
	if book.ID == "" {
		book.ID = uuid.NewString()
	}
	log := s.logger.With(zap.String("book_id", book.ID))

	existing, err := s.slugsByID(ctx)
	if err != nil {
		log.Error("Failed to scan existing books", zap.Error(err))
		return saveFailed("", err)
	}
	taken := make(map[string]bool)
	var oldSlug string
	for slug, id := range existing {
		if id == book.ID {
			oldSlug = slug
			continue
		}
		taken[slug] = true
	}
	slug := uniqueSlug(Slugify(book.Title), taken)
	dir := path.Join(BooksDir, slug)
	log = log.With(zap.String("slug", slug))

	usedStory := make(map[string]bool)
	storyFiles := make([]string, 0, len(book.Stories))
	for i := range book.Stories {
		st := stripStory(book.Stories[i])
		storySlug := uniqueSlug(Slugify(st.Title), usedStory)
		usedStory[storySlug] = true
		name := storySlug + ".json"

		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return saveFailed(slug, fmt.Errorf("failed to encode story %s: %w", st.ID, err))
		}
		if err := s.backend.WriteFile(ctx, path.Join(dir, storiesDir, name), data); err != nil {
			log.Error("Failed to write story file", zap.String("file", name), zap.Error(err))
			return saveFailed(slug, err)
		}
		storyFiles = append(storyFiles, name)
	}

	doc := bookDocument{Book: *book, StoryFiles: storyFiles}
	doc.Stories = nil
	doc.Characters = stripCharacters(book.Characters)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return saveFailed(slug, fmt.Errorf("failed to encode book: %w", err))
	}
	if err := s.backend.WriteFile(ctx, path.Join(dir, bookFile), data); err != nil {
		log.Error("Failed to write book file", zap.Error(err))
		return saveFailed(slug, err)
	}

	s.removeStaleStories(ctx, dir, storyFiles, log)

	if oldSlug != "" && oldSlug != slug {
		if err := s.backend.RemoveAll(ctx, path.Join(BooksDir, oldSlug)); err != nil {
			log.Warn("Failed to remove previous book directory", zap.String("old_slug", oldSlug), zap.Error(err))
		}
		s.Invalidate(oldSlug)
	}
	s.Invalidate(slug)

	log.Info("Book saved", zap.Int("stories", len(storyFiles)))
	return SaveResult{Success: true, Slug: slug, Path: dir}
}

func (s *FileStorage) removeStaleStories(ctx context.Context, dir string, keep []string, log *zap.Logger) {
	entries, err := s.backend.ListDir(ctx, path.Join(dir, storiesDir))
	if err != nil {
		return
	}
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	for _, e := range entries {
		if e.IsDir || keepSet[e.Name] || !strings.HasSuffix(e.Name, ".json") {
			continue
		}
		if err := s.backend.RemoveAll(ctx, path.Join(dir, storiesDir, e.Name)); err != nil {
			log.Warn("Failed to remove stale story file", zap.String("file", e.Name), zap.Error(err))
			continue
		}
		log.Debug("Stale story file removed", zap.String("file", e.Name))
	}
}

// LoadBook читает книгу по slug. Отсутствующие файлы историй пропускаются.
func (s *FileStorage) LoadBook(ctx context.Context, slug string) LoadResult {
	if !slugRe.MatchString(slug) {
		return loadFailed(fmt.Errorf("%w: invalid slug %q", domain.ErrInvalidInput, slug))
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(slug); ok {
			var book domain.Book
			if err := json.Unmarshal(v.([]byte), &book); err == nil {
				return LoadResult{Success: true, Book: &book}
			}
			s.cache.Delete(slug)
		}
	}
	log := s.logger.With(zap.String("slug", slug))
	dir := path.Join(BooksDir, slug)

	raw, err := s.backend.ReadFile(ctx, path.Join(dir, bookFile))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Error("Failed to read book file", zap.Error(err))
		}
		return loadFailed(err)
	}
	var doc bookDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		log.Error("Failed to decode book file", zap.Error(err))
		return loadFailed(fmt.Errorf("%w: book.json: %v", domain.ErrInvalidInput, err))
	}

	files := doc.StoryFiles
	if files == nil {
		// book.json без порядка историй (например, правленый вручную)
		files = s.listStoryFiles(ctx, dir)
	}
	book := doc.Book
	book.Stories = make([]domain.Story, 0, len(files))
	for _, name := range files {
		data, err := s.backend.ReadFile(ctx, path.Join(dir, storiesDir, name))
		if err != nil {
			log.Warn("Story file unavailable, skipping", zap.String("file", name), zap.Error(err))
			continue
		}
		var st domain.Story
		if err := json.Unmarshal(data, &st); err != nil {
			log.Warn("Story file is not valid JSON, skipping", zap.String("file", name), zap.Error(err))
			continue
		}
		if st.Scenes == nil {
			st.Scenes = []domain.Scene{}
		}
		book.Stories = append(book.Stories, st)
	}

	if s.cache != nil {
		if data, err := json.Marshal(book); err == nil {
			s.cache.SetDefault(slug, data)
		}
	}
	log.Debug("Book loaded", zap.Int("stories", len(book.Stories)))
	return LoadResult{Success: true, Book: &book}
}

func (s *FileStorage) listStoryFiles(ctx context.Context, dir string) []string {
	entries, err := s.backend.ListDir(ctx, path.Join(dir, storiesDir))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir && strings.HasSuffix(e.Name, ".json") {
			out = append(out, e.Name)
		}
	}
	return out
}

// ListBooks возвращает книги в порядке slug. Нечитаемые каталоги пропускаются.
func (s *FileStorage) ListBooks(ctx context.Context) ([]BookSummary, error) {
	entries, err := s.backend.ListDir(ctx, BooksDir)
	if errors.Is(err, domain.ErrNotFound) {
		return []BookSummary{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]BookSummary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		doc, err := s.readDocument(ctx, e.Name)
		if err != nil {
			s.logger.Warn("Skipping unreadable book directory", zap.String("slug", e.Name), zap.Error(err))
			continue
		}
		out = append(out, BookSummary{
			Slug:       e.Name,
			ID:         doc.ID,
			Title:      doc.Title,
			StoryCount: len(doc.StoryFiles),
			UpdatedAt:  doc.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// DeleteBook удаляет каталог книги целиком.
func (s *FileStorage) DeleteBook(ctx context.Context, slug string) SaveResult {
	if !slugRe.MatchString(slug) {
		return saveFailed(slug, fmt.Errorf("%w: invalid slug %q", domain.ErrInvalidInput, slug))
	}
	dir := path.Join(BooksDir, slug)
	ok, err := s.backend.Exists(ctx, dir)
	if err != nil {
		return saveFailed(slug, err)
	}
	if !ok {
		return saveFailed(slug, fmt.Errorf("%w: book %s", domain.ErrNotFound, slug))
	}
	if err := s.backend.RemoveAll(ctx, dir); err != nil {
		s.logger.Error("Failed to delete book", zap.String("slug", slug), zap.Error(err))
		return saveFailed(slug, err)
	}
	s.Invalidate(slug)
	s.logger.Info("Book deleted", zap.String("slug", slug))
	return SaveResult{Success: true, Slug: slug, Path: dir}
}

func (s *FileStorage) readDocument(ctx context.Context, slug string) (bookDocument, error) {
	var doc bookDocument
	raw, err := s.backend.ReadFile(ctx, path.Join(BooksDir, slug, bookFile))
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return doc, nil
}

// slugsByID сопоставляет существующие slug с ID книг.
func (s *FileStorage) slugsByID(ctx context.Context) (map[string]string, error) {
	entries, err := s.backend.ListDir(ctx, BooksDir)
	if errors.Is(err, domain.ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		doc, err := s.readDocument(ctx, e.Name)
		if err != nil {
			// каталог занят, даже если book.json нечитаем
			out[e.Name] = ""
			continue
		}
		out[e.Name] = doc.ID
	}
	return out, nil
}

// Slugify приводит заголовок к виду "lower-ascii-words". Пустой результат - "untitled".
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "untitled"
	}
	return slug
}

// uniqueSlug добавляет суффикс -2, -3, ... пока slug занят.
func uniqueSlug(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if !taken[candidate] {
			return candidate
		}
	}
}

func stripCharacters(in []domain.Character) []domain.Character {
	if in == nil {
		return nil
	}
	out := make([]domain.Character, len(in))
	for i, c := range in {
		if c.ImageGallery != nil {
			gallery := make([]domain.GalleryImage, len(c.ImageGallery))
			for j, img := range c.ImageGallery {
				img.URL = ""
				gallery[j] = img
			}
			c.ImageGallery = gallery
		}
		out[i] = c
	}
	return out
}

func stripStory(st domain.Story) domain.Story {
	st.Characters = stripCharacters(st.Characters)
	if st.Scenes == nil {
		st.Scenes = []domain.Scene{}
	}
	return st
}
