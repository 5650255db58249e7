package imageapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"

	"storybook-server/internal/domain"
)

const (
	// maxImageBytes ограничивает размер скачиваемого изображения.
	maxImageBytes = 32 << 20
	// MaxImageSide - предельная ширина и высота декодируемого изображения.
	MaxImageSide = 8192
)

// Fetcher получает байты изображения по URL: data URL декодируется локально,
// http(s) скачивается.
type Fetcher struct {
	client   *http.Client
	maxBytes int
	logger   *zap.Logger
}

// NewFetcher создает Fetcher с таймаутом скачивания.
func NewFetcher(timeout time.Duration, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxImageBytes,
		logger:   logger.Named("ImageFetcher"),
	}
}

// FetchBytes возвращает сырые байты изображения.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, "data:") {
		data, _, err := DecodeDataURL(url)
		return data, err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: unsupported image url scheme", domain.ErrInvalidInput)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("Failed to download image", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) > f.maxBytes {
		return nil, fmt.Errorf("%w: image body exceeds %d bytes", domain.ErrInvalidInput, f.maxBytes)
	}
	return data, nil
}

// Fetch скачивает и декодирует изображение.
func (f *Fetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	data, err := f.FetchBytes(ctx, url)
	if err != nil {
		return nil, err
	}
	img, format, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("Image decoded", zap.String("format", format), zap.Int("width", img.Bounds().Dx()), zap.Int("height", img.Bounds().Dy()))
	return img, nil
}

// CheckImage читает только заголовок и проверяет формат и размеры.
func CheckImage(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: failed to decode image header: %v", domain.ErrInvalidInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxImageSide || cfg.Height > MaxImageSide {
		return image.Config{}, "", fmt.Errorf("%w: %s image %dx%d exceeds %dx%d",
			domain.ErrInvalidInput, format, cfg.Width, cfg.Height, MaxImageSide, MaxImageSide)
	}
	return cfg, format, nil
}

// DecodeImage декодирует изображение после CheckImage: декодер выделяет
// память под все пиксели из заголовка до чтения данных.
func DecodeImage(data []byte) (image.Image, string, error) {
	if _, _, err := CheckImage(data); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// DecodeDataURL разбирает data URL вида data:<mime>;base64,<payload>.
func DecodeDataURL(url string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: not a data url", domain.ErrInvalidInput)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data url", domain.ErrInvalidInput)
	}
	mime := strings.TrimSuffix(meta, ";base64")
	if !strings.HasSuffix(meta, ";base64") {
		return []byte(payload), mime, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: bad base64 payload: %v", domain.ErrInvalidInput, err)
	}
	return data, mime, nil
}

// EncodePNGDataURL кодирует изображение в data:image/png;base64.
func EncodePNGDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ToPNGDataURL декодирует произвольные байты изображения и перекодирует их в PNG data URL.
func ToPNGDataURL(data []byte) (string, error) {
	img, _, err := DecodeImage(data)
	if err != nil {
		return "", err
	}
	return EncodePNGDataURL(img)
}
