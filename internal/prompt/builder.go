package prompt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"storybook-server/internal/domain"
	"storybook-server/internal/macro"
)

// referenceNote добавляется к персонажу, для которого приложено референсное изображение.
const referenceNote = "  Reference image provided for %s: match the attached reference image exactly (face, hair, outfit, proportions)."

// Input - все, из чего собирается промпт сцены.
type Input struct {
	Scene      domain.Scene
	Story      *domain.Story
	Book       *domain.Book
	Characters []domain.CastMember
	Elements   []domain.Element
	// WithReference - имена персонажей, чьи референсы реально загружены.
	WithReference map[string]bool
}

// Build собирает промпт в фиксированном порядке секций.
// Пустые секции пропускаются, кроме "This scene".
// Результат детерминирован.
func Build(in Input) string {
	var sections []string

	if in.Book != nil {
		if s := formatStyle(in.Book.Style); s != "" {
			sections = append(sections, "Visual style:\n"+s)
		}
		if bg := strings.TrimSpace(in.Book.BackgroundSetup); bg != "" {
			sections = append(sections, "World setting:\n"+bg)
		}
	}
	if in.Story != nil {
		if bg := strings.TrimSpace(in.Story.BackgroundSetup); bg != "" {
			sections = append(sections, "Story context:\n"+bg)
		}
	}

	sections = append(sections, "This scene:\n"+strings.TrimSpace(in.Scene.Description))

	values := macro.PromptValues(in.Scene)

	if len(in.Characters) > 0 {
		var b strings.Builder
		b.WriteString("Characters:")
		for _, c := range in.Characters {
			b.WriteString("\n- ")
			b.WriteString(c.Name)
			if d := strings.TrimSpace(macro.Substitute(c.Description, values)); d != "" {
				b.WriteString(": ")
				b.WriteString(d)
			}
			if v := strings.TrimSpace(macro.Substitute(c.VisualDetails, values)); v != "" {
				b.WriteString("\n  Visual details: ")
				b.WriteString(v)
			}
			if in.WithReference[c.Name] {
				b.WriteString("\n")
				b.WriteString(fmt.Sprintf(referenceNote, c.Name))
			}
		}
		sections = append(sections, b.String())
	}

	if len(in.Elements) > 0 {
		var b strings.Builder
		b.WriteString("Elements:")
		for _, e := range in.Elements {
			b.WriteString("\n- ")
			b.WriteString(e.Name)
			if d := strings.TrimSpace(macro.Substitute(e.Description, values)); d != "" {
				b.WriteString(": ")
				b.WriteString(d)
			}
		}
		sections = append(sections, b.String())
	}

	return strings.Join(sections, "\n\n")
}

// formatStyle превращает заполненные поля стиля в строки "Label: value".
func formatStyle(s domain.BookStyle) string {
	fields := []struct {
		label string
		value string
	}{
		{"Theme", s.VisualTheme},
		{"Art style", s.ArtStyle},
		{"Color palette", s.ColorPalette},
		{"Character style", s.CharacterStyle},
		{"Environment style", s.EnvironmentStyle},
	}

	var lines []string
	for _, f := range fields {
		if v := strings.TrimSpace(f.value); v != "" {
			lines = append(lines, f.label+": "+v)
		}
	}
	return strings.Join(lines, "\n")
}

// Hash возвращает стабильный хеш промпта для записи в историю изображений.
func Hash(prompt string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(prompt)).String()
}
