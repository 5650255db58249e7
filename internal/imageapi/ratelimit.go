package imageapi

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

var _ Client = (*RateLimitedClient)(nil)

// RateLimitedClient ограничивает частоту вызовов API на весь процесс:
// одиночные генерации и пакеты делят один лимит.
type RateLimitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimitedClient оборачивает client. interval <= 0 - без ограничения,
// client возвращается как есть.
func NewRateLimitedClient(client Client, interval time.Duration, burst int) Client {
	if interval <= 0 {
		return client
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{next: client, limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

func (c *RateLimitedClient) Generate(ctx context.Context, req Request) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("image api rate limit wait: %w", err)
	}
	return c.next.Generate(ctx, req)
}
