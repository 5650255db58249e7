package imageapi

import "context"

// Request - запрос к внешнему API генерации изображений.
type Request struct {
	Prompt          string   `json:"prompt"`
	AspectRatio     string   `json:"aspectRatio"`
	Model           string   `json:"model"`
	ReferenceImages []string `json:"referenceImages,omitempty"` // data URL
}

// Response - ответ API генерации изображений.
type Response struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Client определяет интерфейс генератора изображений.
type Client interface {
	// Generate выполняет один вызов генерации. Ошибка транспорта возвращается как error,
	// отказ самого API - как Response{Success: false}.
	Generate(ctx context.Context, req Request) (Response, error)
}
