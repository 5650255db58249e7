package domain

// CastScope - откуда пришел персонаж: из книги или из истории.
type CastScope int

const (
	StoryScope CastScope = iota
	BookScope
)

func (s CastScope) String() string {
	if s == BookScope {
		return "book"
	}
	return "story"
}

// CastMember - персонаж с меткой области видимости.
type CastMember struct {
	Character
	Scope CastScope
}

// StorageKey возвращает ключ хранилища изображений персонажа.
// Для книжных персонажей - "book:<bookID>", для персонажей истории - id истории.
func (m CastMember) StorageKey(storyID, bookID string) string {
	if m.Scope == BookScope {
		return "book:" + bookID
	}
	return storyID
}

// MergeCast объединяет каст книги и истории. При совпадении имени побеждает персонаж истории.
func MergeCast(book *Book, story *Story) []CastMember {
	var merged []CastMember
	index := make(map[string]int)

	if book != nil {
		for _, c := range book.Characters {
			index[c.Name] = len(merged)
			merged = append(merged, CastMember{Character: c, Scope: BookScope})
		}
	}
	if story != nil {
		for _, c := range story.Characters {
			if i, ok := index[c.Name]; ok {
				merged[i] = CastMember{Character: c, Scope: StoryScope}
				continue
			}
			index[c.Name] = len(merged)
			merged = append(merged, CastMember{Character: c, Scope: StoryScope})
		}
	}
	return merged
}

// FilterCast оставляет только персонажей, на которых ссылается сцена
// (по имени или по id). Неизвестные ссылки молча отбрасываются.
// Порядок - порядок ссылок в сцене.
func FilterCast(cast []CastMember, scene Scene) []CastMember {
	byName := make(map[string]CastMember, len(cast))
	byID := make(map[string]CastMember, len(cast))
	for _, m := range cast {
		byName[m.Name] = m
		if m.ID != "" {
			byID[m.ID] = m
		}
	}

	seen := make(map[string]bool)
	var out []CastMember
	add := func(m CastMember) {
		if seen[m.Name] {
			return
		}
		seen[m.Name] = true
		out = append(out, m)
	}
	for _, name := range scene.Characters {
		if m, ok := byName[name]; ok {
			add(m)
		}
	}
	for _, id := range scene.CharacterIDs {
		if m, ok := byID[id]; ok {
			add(m)
		}
	}
	return out
}

// FilterElements возвращает элементы истории, упомянутые в сцене.
func FilterElements(story *Story, scene Scene) []Element {
	if story == nil {
		return nil
	}
	byName := make(map[string]Element, len(story.Elements))
	for _, e := range story.Elements {
		byName[e.Name] = e
	}
	var out []Element
	for _, name := range scene.Elements {
		if e, ok := byName[name]; ok {
			out = append(out, e)
		}
	}
	return out
}
