package reference_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/mocks"
	"storybook-server/internal/reference"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func member(name, imageID string, scope domain.CastScope) domain.CastMember {
	c := domain.Character{Name: name, SelectedImageID: imageID}
	if imageID != "" {
		c.ImageGallery = []domain.GalleryImage{{ID: imageID}}
	}
	return domain.CastMember{Character: c, Scope: scope}
}

func TestLoader_StorageKeysAndPartialFailure(t *testing.T) {
	store := mocks.NewMockCharImageStore(t)
	img := pngBytes(t)

	store.On("Get", mock.Anything, "book:b1", "Mira", "m1").Return(img, nil).Once()
	store.On("Get", mock.Anything, "s1", "Otto", "o1").Return(nil, errors.New("disk on fire")).Once()
	store.On("Get", mock.Anything, "s1", "Ines", "i1").Return(img, nil).Once()

	loader := reference.NewLoader(store, 0, zap.NewNop())
	res := loader.Load(context.Background(), []domain.CastMember{
		member("Mira", "m1", domain.BookScope),
		member("Otto", "o1", domain.StoryScope),
		member("Ines", "i1", domain.StoryScope),
		member("Nobody", "", domain.StoryScope), // без выбранного изображения
	}, "s1", "b1")

	assert.Len(t, res.DataURLs, 2)
	assert.True(t, res.Loaded["Mira"])
	assert.False(t, res.Loaded["Otto"])
	assert.True(t, res.Loaded["Ines"])
	for _, u := range res.DataURLs {
		assert.Contains(t, u, "data:image/png;base64,")
	}
}

func TestLoader_SelectedImageMustBeInGallery(t *testing.T) {
	store := mocks.NewMockCharImageStore(t)
	loader := reference.NewLoader(store, 0, zap.NewNop())

	m := domain.CastMember{Character: domain.Character{
		Name:            "Mira",
		SelectedImageID: "missing",
		ImageGallery:    []domain.GalleryImage{{ID: "other"}},
	}}
	res := loader.Load(context.Background(), []domain.CastMember{m}, "s1", "b1")
	assert.Empty(t, res.DataURLs)
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLoader_UndecodableImageSkipped(t *testing.T) {
	store := mocks.NewMockCharImageStore(t)
	store.On("Get", mock.Anything, "s1", "Mira", "m1").Return([]byte("not an image"), nil).Once()

	res := reference.NewLoader(store, 0, zap.NewNop()).
		Load(context.Background(), []domain.CastMember{member("Mira", "m1", domain.StoryScope)}, "s1", "")
	assert.Empty(t, res.DataURLs)
	assert.Empty(t, res.Loaded)
}

func TestLoader_CacheHit(t *testing.T) {
	store := mocks.NewMockCharImageStore(t)
	store.On("Get", mock.Anything, "s1", "Mira", "m1").Return(pngBytes(t), nil).Once()

	loader := reference.NewLoader(store, time.Minute, zap.NewNop())
	members := []domain.CastMember{member("Mira", "m1", domain.StoryScope)}

	first := loader.Load(context.Background(), members, "s1", "")
	second := loader.Load(context.Background(), members, "s1", "")
	assert.Equal(t, first.DataURLs, second.DataURLs)
}
