package imageapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Compile-time check
var _ Client = (*HTTPClient)(nil)

// HTTPClient вызывает JSON API генерации: POST <baseURL>/generate.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient создает клиент с таймаутом запроса.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("ImageAPIClient"),
	}
}

// Generate отправляет запрос и разбирает ответ {success, imageUrl, error}.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (Response, error) {
	log := c.logger.With(
		zap.String("api_url", c.baseURL),
		zap.String("model", req.Model),
		zap.String("aspect_ratio", req.AspectRatio),
		zap.Int("reference_count", len(req.ReferenceImages)),
	)

	reqBodyBytes, err := json.Marshal(req)
	if err != nil {
		log.Error("Failed to marshal image API request payload", zap.Error(err))
		return Response{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := c.baseURL + "/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		log.Error("Failed to create image API request", zap.String("url", endpointURL), zap.Error(err))
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log.Debug("Sending request to image API", zap.String("url", endpointURL))
	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.Error("Failed to execute image API request", zap.Error(err))
		return Response{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Error("Image API returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", truncate(bodyBytes, 512)),
		)
		return Response{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(truncate(bodyBytes, 512)))
	}
	if readErr != nil {
		log.Error("Failed to read image API response body", zap.Error(readErr))
		return Response{}, fmt.Errorf("failed to read response body: %w", readErr)
	}

	var out Response
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		log.Error("Failed to decode image API response", zap.Error(err))
		return Response{}, fmt.Errorf("failed to decode response: %w", err)
	}

	log.Debug("Image API call finished", zap.Bool("success", out.Success))
	return out, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
