package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

const (
	insertHistoryQuery = `
        INSERT INTO image_history
            (id, book_slug, story_id, scene_id, model, aspect_ratio, prompt_hash, url, stage, degraded, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	historyColumns = `id, book_slug, story_id, scene_id, model, aspect_ratio, prompt_hash, url, stage, degraded, created_at`

	listHistoryBySceneQuery = `SELECT ` + historyColumns + ` FROM image_history
        WHERE book_slug = $1 AND story_id = $2 AND scene_id = $3
        ORDER BY created_at, id`
	getHistoryByIDQuery = `SELECT ` + historyColumns + ` FROM image_history WHERE id = $1`
)

var _ ImageHistoryRepository = (*pgImageHistoryRepository)(nil)

type pgImageHistoryRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgImageHistoryRepository создает репозиторий поверх пула или транзакции.
func NewPgImageHistoryRepository(db DBTX, logger *zap.Logger) *pgImageHistoryRepository {
	return &pgImageHistoryRepository{
		db:     db,
		logger: logger.Named("ImageHistoryRepo"),
	}
}

func fillDefaults(rec *HistoryRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Stage == "" {
		rec.Stage = "base"
	}
}

func (r *pgImageHistoryRepository) Append(ctx context.Context, rec *HistoryRecord) error {
	if rec == nil || rec.SceneID == "" || rec.URL == "" {
		return fmt.Errorf("%w: history record requires scene id and url", domain.ErrInvalidInput)
	}
	fillDefaults(rec)
	log := r.logger.With(zap.String("image_id", rec.ID), zap.String("scene_id", rec.SceneID))

	_, err := r.db.Exec(ctx, insertHistoryQuery,
		rec.ID, rec.BookSlug, rec.StoryID, rec.SceneID, rec.Model, rec.AspectRatio,
		rec.PromptHash, rec.URL, rec.Stage, rec.Degraded, rec.Timestamp,
	)
	if err != nil {
		log.Error("Error inserting image history record", zap.Error(err))
		return fmt.Errorf("failed to insert image history record %s: %w", rec.ID, err)
	}
	log.Debug("Image history record inserted")
	return nil
}

func (r *pgImageHistoryRepository) ListByScene(ctx context.Context, bookSlug, storyID, sceneID string) ([]HistoryRecord, error) {
	var records []HistoryRecord
	if err := pgxscan.Select(ctx, r.db, &records, listHistoryBySceneQuery, bookSlug, storyID, sceneID); err != nil {
		r.logger.Error("Error listing image history", zap.String("scene_id", sceneID), zap.Error(err))
		return nil, fmt.Errorf("failed to list image history for scene %s: %w", sceneID, err)
	}
	if records == nil {
		records = []HistoryRecord{}
	}
	return records, nil
}

func (r *pgImageHistoryRepository) Get(ctx context.Context, id string) (*HistoryRecord, error) {
	var rec HistoryRecord
	err := pgxscan.Get(ctx, r.db, &rec, getHistoryByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: image %s", domain.ErrNotFound, id)
		}
		r.logger.Error("Error getting image history record", zap.String("image_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get image history record %s: %w", id, err)
	}
	return &rec, nil
}
