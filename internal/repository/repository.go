package repository

import (
	"context"
	"embed"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"storybook-server/internal/domain"
)

// MigrationsFS - SQL-миграции схемы истории изображений.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsPath - каталог миграций внутри MigrationsFS.
const MigrationsPath = "migrations"

// DBTX - общий интерфейс пула и транзакции pgx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// HistoryRecord - запись истории сгенерированного изображения сцены.
type HistoryRecord struct {
	domain.GeneratedImage
	BookSlug string `json:"bookSlug" db:"book_slug"`
	StoryID  string `json:"storyId" db:"story_id"`
	Stage    string `json:"stage" db:"stage"`
	Degraded bool   `json:"degraded" db:"degraded"`
}

// ImageHistoryRepository хранит историю изображений сцен. История только
// дополняется.
type ImageHistoryRepository interface {
	// Append сохраняет запись. Пустые ID и Timestamp заполняются.
	Append(ctx context.Context, rec *HistoryRecord) error
	// ListByScene возвращает записи сцены от старых к новым.
	ListByScene(ctx context.Context, bookSlug, storyID, sceneID string) ([]HistoryRecord, error)
	// Get возвращает запись по ID или domain.ErrNotFound.
	Get(ctx context.Context, id string) (*HistoryRecord, error)
}
