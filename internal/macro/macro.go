package macro

import (
	"regexp"

	"storybook-server/internal/domain"
)

// Имена поддерживаемых макросов.
const (
	SceneDescription = "SceneDescription"
	SceneTitle       = "SceneTitle"
	StoryTitle       = "StoryTitle"
	BookTitle        = "BookTitle"
)

var tokenPattern = regexp.MustCompile(`\{([A-Za-z][A-Za-z0-9_]*)\}`)

// Substitute заменяет плейсхолдеры {Token}, для которых есть значение.
// Неизвестные токены остаются как есть.
func Substitute(text string, values map[string]string) string {
	if text == "" || len(values) == 0 {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
}

// PromptValues - макросы, доступные в описаниях персонажей и элементов.
func PromptValues(scene domain.Scene) map[string]string {
	return map[string]string{
		SceneDescription: scene.Description,
	}
}

// PanelValues - макросы, доступные в тексте панели.
func PanelValues(scene domain.Scene, story *domain.Story, book *domain.Book) map[string]string {
	v := map[string]string{
		SceneDescription: scene.Description,
		SceneTitle:       scene.Title,
	}
	if story != nil {
		v[StoryTitle] = story.Title
	}
	if book != nil {
		v[BookTitle] = book.Title
	}
	return v
}
