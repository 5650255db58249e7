package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/imageapi"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

var refRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*$`)

// BytesFetcher получает байты изображения по URL (data URL или http).
type BytesFetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// Store сохраняет итоговые изображения сцен на диск и отдает публичные URL.
type Store struct {
	savePath      string
	publicBaseURL string
	fetcher       BytesFetcher
	logger        *zap.Logger
}

// New создает Store. Директория создается, если ее нет.
func New(savePath, publicBaseURL string, fetcher BytesFetcher, logger *zap.Logger) (*Store, error) {
	if savePath == "" {
		return nil, errors.New("image save path (IMAGE_SAVE_PATH) is not configured")
	}
	if publicBaseURL == "" {
		return nil, errors.New("image public base URL (IMAGE_PUBLIC_BASE_URL) is not configured")
	}
	if err := os.MkdirAll(savePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &Store{
		savePath:      savePath,
		publicBaseURL: publicBaseURL,
		fetcher:       fetcher,
		logger:        logger.Named("ImageStore"),
	}, nil
}

// Save сохраняет изображение под именем <ref>.png и возвращает его публичный URL.
func (s *Store) Save(ctx context.Context, ref, imageURL string) (string, error) {
	log := s.logger.With(zap.String("image_reference", ref))
	if !refRe.MatchString(ref) {
		return "", fmt.Errorf("%w: invalid image reference %q", domain.ErrInvalidInput, ref)
	}

	data, err := s.fetcher.FetchBytes(ctx, imageURL)
	if err != nil {
		log.Error("Failed to fetch image for saving", zap.Error(err))
		return "", fmt.Errorf("%w: %v", domain.ErrImageSaveFailed, err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		img, _, err := imageapi.DecodeImage(data)
		if err != nil {
			return "", fmt.Errorf("%w: decode: %v", domain.ErrImageSaveFailed, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return "", fmt.Errorf("%w: encode: %v", domain.ErrImageSaveFailed, err)
		}
		data = buf.Bytes()
	}

	fileName := ref + ".png"
	filePath := filepath.Join(s.savePath, fileName)
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error("Failed to save image to file", zap.String("path", filePath), zap.Error(err))
		return "", fmt.Errorf("%w: %v", domain.ErrImageSaveFailed, err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", domain.ErrImageSaveFailed, err)
	}
	log.Info("Image saved to file", zap.String("path", filePath), zap.Int("size_bytes", len(data)))

	publicURL, err := url.JoinPath(s.publicBaseURL, fileName)
	if err != nil {
		return "", fmt.Errorf("%w: bad public base url: %v", domain.ErrImageSaveFailed, err)
	}
	return publicURL, nil
}

// Delete удаляет сохраненное изображение. Отсутствие файла не ошибка.
func (s *Store) Delete(ref string) error {
	if !refRe.MatchString(ref) {
		return fmt.Errorf("%w: invalid image reference %q", domain.ErrInvalidInput, ref)
	}
	err := os.Remove(filepath.Join(s.savePath, ref+".png"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
