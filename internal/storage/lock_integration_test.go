//go:build integration

package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"storybook-server/internal/storage"
)

func TestRedisBookLocker_Integration(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(t, err, "Failed to start redis container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })

	// два экземпляра, как у сервера и воркера
	server := storage.NewRedisBookLocker(client, "", time.Minute, zap.NewNop())
	worker := storage.NewRedisBookLocker(client, "", time.Minute, zap.NewNop())

	t.Run("second owner waits for release", func(t *testing.T) {
		unlock, err := server.Lock(ctx, "lantern")
		require.NoError(t, err)

		shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		_, err = worker.Lock(shortCtx, "lantern")
		cancel()
		assert.ErrorIs(t, err, storage.ErrLockTimeout)

		acquired := make(chan func(), 1)
		go func() {
			u, err := worker.Lock(ctx, "lantern")
			if err == nil {
				acquired <- u
			}
		}()
		select {
		case <-acquired:
			t.Fatal("lock acquired while still held")
		case <-time.After(150 * time.Millisecond):
		}

		unlock()
		select {
		case u := <-acquired:
			u()
		case <-time.After(5 * time.Second):
			t.Fatal("lock was not handed over after release")
		}
	})

	t.Run("stale unlock keeps new owner", func(t *testing.T) {
		short := storage.NewRedisBookLocker(client, "", 100*time.Millisecond, zap.NewNop())
		stale, err := short.Lock(ctx, "meadow")
		require.NoError(t, err)
		time.Sleep(200 * time.Millisecond)

		fresh, err := worker.Lock(ctx, "meadow")
		require.NoError(t, err)
		stale()

		exists, err := client.Exists(ctx, "storybook:lock:book:meadow").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)

		fresh()
		exists, err = client.Exists(ctx, "storybook:lock:book:meadow").Result()
		require.NoError(t, err)
		assert.Zero(t, exists)
	})

	t.Run("different books do not block", func(t *testing.T) {
		a, err := server.Lock(ctx, "one")
		require.NoError(t, err)
		defer a()
		shortCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		b, err := worker.Lock(shortCtx, "two")
		require.NoError(t, err)
		b()
	})
}
