package charimage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

func TestFileStore_PutGet(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "book:b1", "Mira", "img-1", []byte("pixels")))

	data, err := store.Get(ctx, "book:b1", "Mira", "img-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), data)

	_, err = store.Get(ctx, "book:b1", "Mira", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Разные ключи хранилища не пересекаются
	_, err = store.Get(ctx, "story-1", "Mira", "img-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFileStore_KeysDoNotCollide(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	// книжный ключ и id истории с тем же написанием
	require.NoError(t, store.Put(ctx, "book:x", "Mira", "img-1", []byte("book")))
	require.NoError(t, store.Put(ctx, "book_x", "Mira", "img-1", []byte("story")))
	require.NoError(t, store.Put(ctx, "book%3Ax", "Mira", "img-1", []byte("escaped")))

	for key, want := range map[string]string{"book:x": "book", "book_x": "story", "book%3Ax": "escaped"} {
		data, err := store.Get(ctx, key, "Mira", "img-1")
		require.NoError(t, err, key)
		assert.Equal(t, want, string(data), key)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"book:b1", "book%3Ab1"},
		{"book_b1", "book_b1"},
		{"a/b\\c", "a%2Fb%5Cc"},
		{"Sir Mira", "Sir+Mira"},
		{"100%", "100%25"},
		{"..", "%2E%2E"},
		{".", "%2E"},
		{"  ", "%"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := sanitize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "/")
			assert.NotEqual(t, "..", got)
		})
	}
	assert.NotEqual(t, sanitize("book:b1"), sanitize("book_b1"))
}
