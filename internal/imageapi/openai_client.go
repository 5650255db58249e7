package imageapi

import (
	"context"
	"fmt"
	"strings"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Compile-time check
var _ Client = (*OpenAIClient)(nil)

// OpenAIClient генерирует изображения через OpenAI Images API.
type OpenAIClient struct {
	client       *openaigo.Client
	defaultModel string
	logger       *zap.Logger
}

// NewOpenAIClient создает клиент. baseURL можно оставить пустым.
func NewOpenAIClient(apiKey, baseURL, defaultModel string, logger *zap.Logger) *OpenAIClient {
	cfg := openaigo.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if defaultModel == "" {
		defaultModel = openaigo.CreateImageModelDallE3
	}
	return &OpenAIClient{
		client:       openaigo.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
		logger:       logger.Named("OpenAIImageClient"),
	}
}

// Generate вызывает CreateImage и возвращает data URL из b64 ответа.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	log := c.logger.With(zap.String("model", model), zap.String("aspect_ratio", req.AspectRatio))

	if len(req.ReferenceImages) > 0 {
		// Images API не принимает референсы в запросе на создание
		log.Debug("Reference images are not supported by this backend, dropping them",
			zap.Int("reference_count", len(req.ReferenceImages)))
	}

	resp, err := c.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              1,
		Size:           SizeForAspect(req.AspectRatio),
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		log.Error("OpenAI CreateImage failed", zap.Error(err))
		return Response{Success: false, Error: err.Error()}, nil
	}
	if len(resp.Data) == 0 {
		return Response{Success: false, Error: "no image data in response"}, nil
	}

	item := resp.Data[0]
	switch {
	case item.B64JSON != "":
		return Response{Success: true, ImageURL: "data:image/png;base64," + item.B64JSON}, nil
	case item.URL != "":
		return Response{Success: true, ImageURL: item.URL}, nil
	default:
		return Response{Success: false, Error: "empty image item in response"}, nil
	}
}

// SizeForAspect подбирает ближайший поддерживаемый размер.
func SizeForAspect(ratio string) string {
	w, h, ok := parseRatio(ratio)
	if !ok {
		return openaigo.CreateImageSize1024x1024
	}
	r := w / h
	switch {
	case r > 1.2:
		return openaigo.CreateImageSize1792x1024
	case r < 0.83:
		return openaigo.CreateImageSize1024x1792
	default:
		return openaigo.CreateImageSize1024x1024
	}
}

func parseRatio(ratio string) (float64, float64, bool) {
	parts := strings.Split(ratio, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	var w, h float64
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%g %g", &w, &h); err != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}
