package domain

import "errors"

// Общие ошибки приложения
var (
	// Хранилище
	ErrNotFound            = errors.New("resource not found")
	ErrNoDirectorySelected = errors.New("no directory selected")

	// Генерация
	ErrImageGenerationFailed = errors.New("image generation failed")
	ErrImageSaveFailed       = errors.New("image save failed")
	ErrOverlayFailed         = errors.New("overlay composition failed")
	ErrUnsupportedDiagram    = errors.New("unsupported diagram type")

	// Запросы
	ErrInvalidInput = errors.New("invalid input data")
)
