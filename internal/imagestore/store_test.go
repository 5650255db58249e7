package imagestore_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/imageapi"
	"storybook-server/internal/imagestore"
)

func newStore(t *testing.T) (*imagestore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := imagestore.New(dir, "https://cdn.example.com/scenes/", imageapi.NewFetcher(time.Second, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	return s, dir
}

func TestSave_DataURL(t *testing.T) {
	s, dir := newStore(t)
	dataURL, err := imageapi.EncodePNGDataURL(image.NewNRGBA(image.Rect(0, 0, 3, 3)))
	require.NoError(t, err)

	u, err := s.Save(context.Background(), "scene-1", dataURL)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/scenes/scene-1.png", u)

	data, err := os.ReadFile(filepath.Join(dir, "scene-1.png"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestSave_ConvertsToPNG(t *testing.T) {
	s, dir := newStore(t)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))
	u := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	_, err := s.Save(context.Background(), "j", u)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "j.png"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestSave_RejectsBadReference(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Save(context.Background(), "../escape", "data:image/png;base64,AA==")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSave_BadImage(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Save(context.Background(), "x", "data:image/png;base64,bm90IGFuIGltYWdl")
	assert.ErrorIs(t, err, domain.ErrImageSaveFailed)
}

func TestDelete_MissingIsNotError(t *testing.T) {
	s, _ := newStore(t)
	assert.NoError(t, s.Delete("nope"))
}
