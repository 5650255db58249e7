//go:build integration

package charimage

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

	"storybook-server/internal/domain"
)

func TestRedisStore_Integration(t *testing.T) {
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

	store := NewRedisStore(client, zap.NewNop())

	require.NoError(t, store.Put(ctx, "book:b1", "Mira", "img-1", []byte{1, 2, 3}))

	data, err := store.Get(ctx, "book:b1", "Mira", "img-1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	members, err := store.List(ctx, "book:b1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Mira:img-1"}, members)

	_, err = store.Get(ctx, "book:b1", "Mira", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
