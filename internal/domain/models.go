package domain

import (
	"strings"
	"time"
)

// Book - верхнеуровневый контейнер: стиль, общий каст и истории.
type Book struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	BackgroundSetup string      `json:"backgroundSetup,omitempty"`
	AspectRatio     string      `json:"aspectRatio,omitempty"`
	Style           BookStyle   `json:"style"`
	Characters      []Character `json:"characters,omitempty"`
	Stories         []Story     `json:"stories,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// BookStyle задает визуальный стиль для всех сцен книги.
type BookStyle struct {
	ColorPalette     string       `json:"colorPalette,omitempty"`
	VisualTheme      string       `json:"visualTheme,omitempty"`
	CharacterStyle   string       `json:"characterStyle,omitempty"`
	EnvironmentStyle string       `json:"environmentStyle,omitempty"`
	ArtStyle         string       `json:"artStyle,omitempty"`
	PanelConfig      *PanelConfig `json:"panelConfig,omitempty"`
}

// Story принадлежит ровно одной книге (по вложенности).
type Story struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	BackgroundSetup string        `json:"backgroundSetup,omitempty"`
	DiagramStyle    *DiagramStyle `json:"diagramStyle,omitempty"`
	Characters      []Character   `json:"characters,omitempty"`
	Elements        []Element     `json:"elements,omitempty"`
	Scenes          []Scene       `json:"scenes"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Scene - одна иллюстрируемая единица истории.
type Scene struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	TextPanel    string        `json:"textPanel,omitempty"`
	DiagramPanel *DiagramPanel `json:"diagramPanel,omitempty"`
	Layout       *SceneLayout  `json:"layout,omitempty"`

	// Ссылки на персонажей и элементы по имени.
	Characters []string `json:"characters,omitempty"`
	Elements   []string `json:"elements,omitempty"`
	// Ссылки на глобальный каст по id (после миграции).
	CharacterIDs []string `json:"characterIds,omitempty"`

	ImageHistory   []GeneratedImage `json:"imageHistory,omitempty"`
	CurrentImageID string           `json:"currentImageId,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// HasTextPanel сообщает, есть ли у сцены непустой текст для панели.
func (s Scene) HasTextPanel() bool {
	return strings.TrimSpace(s.TextPanel) != ""
}

// HasDiagram сообщает, есть ли у сцены диаграмма с непустым содержимым.
func (s Scene) HasDiagram() bool {
	return s.DiagramPanel != nil && strings.TrimSpace(s.DiagramPanel.Content) != ""
}

// CurrentImage возвращает текущее изображение сцены, если оно есть в истории.
func (s Scene) CurrentImage() (GeneratedImage, bool) {
	for _, img := range s.ImageHistory {
		if img.ID == s.CurrentImageID {
			return img, true
		}
	}
	return GeneratedImage{}, false
}

// Character может принадлежать книге (общий каст) или истории.
type Character struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	VisualDetails   string         `json:"visualDetails,omitempty"`
	SelectedImageID string         `json:"selectedImageId,omitempty"`
	ImageGallery    []GalleryImage `json:"imageGallery,omitempty"`
}

// SelectedImage возвращает запись галереи, соответствующую выбранному изображению.
func (c Character) SelectedImage() (GalleryImage, bool) {
	if c.SelectedImageID == "" {
		return GalleryImage{}, false
	}
	for _, img := range c.ImageGallery {
		if img.ID == c.SelectedImageID {
			return img, true
		}
	}
	return GalleryImage{}, false
}

// GalleryImage - метаданные изображения персонажа.
// URL временный и не сохраняется на диск.
type GalleryImage struct {
	ID        string    `json:"id"`
	URL       string    `json:"url,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Element - переиспользуемый описанный объект истории.
type Element struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// GeneratedImage - запись истории генерации. Пиксели хранятся отдельно.
type GeneratedImage struct {
	ID          string    `json:"id" db:"id"`
	SceneID     string    `json:"sceneId,omitempty" db:"scene_id"`
	Model       string    `json:"model" db:"model"`
	AspectRatio string    `json:"aspectRatio,omitempty" db:"aspect_ratio"`
	PromptHash  string    `json:"promptHash,omitempty" db:"prompt_hash"`
	URL         string    `json:"url,omitempty" db:"url"`
	Timestamp   time.Time `json:"timestamp" db:"created_at"`
}

// FindStory ищет историю по id.
func (b *Book) FindStory(storyID string) (*Story, bool) {
	for i := range b.Stories {
		if b.Stories[i].ID == storyID {
			return &b.Stories[i], true
		}
	}
	return nil, false
}

// FindScene ищет сцену по id.
func (s *Story) FindScene(sceneID string) (*Scene, bool) {
	for i := range s.Scenes {
		if s.Scenes[i].ID == sceneID {
			return &s.Scenes[i], true
		}
	}
	return nil, false
}
