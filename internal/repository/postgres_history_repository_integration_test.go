//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/pkg/database"
	"storybook-server/pkg/migration"
)

func TestPgImageHistoryRepository_Integration(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.New(ctx, database.Config{DSN: dsn}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	migrator := migration.NewMigrator(migration.Config{
		MigrationsFS:   MigrationsFS,
		MigrationsPath: MigrationsPath,
	}, db.Pool, logger)
	require.NoError(t, migrator.Up(ctx))

	repo := NewPgImageHistoryRepository(db.Pool, logger)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := record("sc1", "/images/a.png", base)
	first.PromptHash = "hash"
	first.Degraded = true
	first.Stage = "default_overlay"
	second := record("sc1", "/images/b.png", base.Add(time.Minute))
	require.NoError(t, repo.Append(ctx, second))
	require.NoError(t, repo.Append(ctx, first))

	list, err := repo.ListByScene(ctx, "book", "story", "sc1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, "hash", list[0].PromptHash)
	assert.True(t, list[0].Degraded)
	assert.Equal(t, "default_overlay", list[0].Stage)
	assert.True(t, base.Equal(list[0].Timestamp))

	got, err := repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "/images/b.png", got.URL)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, migrator.Down(ctx))
}
