package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"storybook-server/internal/domain"
)

var _ ImageHistoryRepository = (*MemoryImageHistoryRepository)(nil)

// MemoryImageHistoryRepository используется, когда Postgres не настроен.
type MemoryImageHistoryRepository struct {
	mu      sync.RWMutex
	records []HistoryRecord
	byID    map[string]int
}

func NewMemoryImageHistoryRepository() *MemoryImageHistoryRepository {
	return &MemoryImageHistoryRepository{byID: make(map[string]int)}
}

func (r *MemoryImageHistoryRepository) Append(_ context.Context, rec *HistoryRecord) error {
	if rec == nil || rec.SceneID == "" || rec.URL == "" {
		return fmt.Errorf("%w: history record requires scene id and url", domain.ErrInvalidInput)
	}
	fillDefaults(rec)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[rec.ID]; ok {
		return fmt.Errorf("%w: duplicate image id %s", domain.ErrInvalidInput, rec.ID)
	}
	r.byID[rec.ID] = len(r.records)
	r.records = append(r.records, *rec)
	return nil
}

func (r *MemoryImageHistoryRepository) ListByScene(_ context.Context, bookSlug, storyID, sceneID string) ([]HistoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []HistoryRecord{}
	for _, rec := range r.records {
		if rec.BookSlug == bookSlug && rec.StoryID == storyID && rec.SceneID == sceneID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *MemoryImageHistoryRepository) Get(_ context.Context, id string) (*HistoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: image %s", domain.ErrNotFound, id)
	}
	rec := r.records[idx]
	return &rec, nil
}
