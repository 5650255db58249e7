package migration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func newUUID() string { return uuid.NewString() }

// castBuilder собирает общий каст и карту старых id в новые.
type castBuilder struct {
	r      *run
	cast   []map[string]any
	byID   map[string]string // старый id -> новый
	byName map[string]string // имя в нижнем регистре -> новый id
}

func newCastBuilder(r *run) *castBuilder {
	return &castBuilder{r: r, byID: map[string]string{}, byName: map[string]string{}}
}

// add регистрирует упоминание персонажа и возвращает его глобальный id.
// Упоминание с id сливается только по id. По имени без учета регистра
// сопоставляются лишь упоминания без id.
func (b *castBuilder) add(c map[string]any) (string, bool) {
	oldID, _ := c["id"].(string)
	name, _ := c["name"].(string)
	name = strings.TrimSpace(name)
	key := strings.ToLower(name)

	if oldID != "" {
		if id, ok := b.byID[oldID]; ok {
			if key != "" {
				if _, seen := b.byName[key]; !seen {
					b.byName[key] = id
				}
			}
			return id, true
		}
	}
	if oldID == "" && key != "" {
		if id, ok := b.byName[key]; ok {
			return id, true
		}
	}
	if key == "" && oldID == "" {
		b.r.warn("character without id and name skipped")
		return "", false
	}

	id := b.r.newID()
	member := make(map[string]any, len(c))
	for k, v := range c {
		member[k] = v
	}
	member["id"] = id
	if name == "" {
		b.r.warn("character %s has no name", oldID)
	}
	member["name"] = name
	b.cast = append(b.cast, member)
	if oldID != "" {
		b.byID[oldID] = id
	}
	if _, seen := b.byName[key]; key != "" && !seen {
		b.byName[key] = id
	}
	return id, true
}

func (b *castBuilder) nameOf(id string) string {
	for _, m := range b.cast {
		if m["id"] == id {
			s, _ := m["name"].(string)
			return s
		}
	}
	return ""
}

// migrateV0toV1 приводит неверсионированные данные к формату 1.0.0.
// Поддерживаются одиночная история (backgroundSetup + scenes) и
// набор историй (stories).
func migrateV0toV1(doc map[string]any, r *run) (map[string]any, error) {
	var stories []map[string]any

	switch {
	case doc["stories"] != nil:
		list, ok := doc["stories"].([]any)
		if !ok {
			return nil, errors.New("field \"stories\" must be an array")
		}
		for i, item := range list {
			st, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("stories[%d] must be an object", i)
			}
			stories = append(stories, st)
		}
	case doc["scenes"] != nil || doc["backgroundSetup"] != nil:
		st := map[string]any{
			"id":              doc["id"],
			"title":           firstString(doc, "title", "storyTitle"),
			"description":     doc["description"],
			"backgroundSetup": doc["backgroundSetup"],
			"scenes":          doc["scenes"],
			"elements":        doc["elements"],
			"createdAt":       doc["createdAt"],
			"updatedAt":       firstNonNil(doc["updatedAt"], doc["lastUpdated"]),
		}
		stories = append(stories, st)
	default:
		return nil, errors.New("unrecognized data shape: expected \"stories\" or \"scenes\"")
	}

	cast := newCastBuilder(r)

	// Проход 1: глобальный каст из верхнего уровня, историй и сцен
	if top, ok := doc["characters"].([]any); ok {
		registerAll(cast, top)
	}
	for si, st := range stories {
		if list, ok := st["characters"].([]any); ok {
			registerAll(cast, list)
		}
		scenes, err := scenesOf(st, si)
		if err != nil {
			return nil, err
		}
		for _, sc := range scenes {
			if list, ok := sc["characters"].([]any); ok {
				registerAll(cast, list)
			}
		}
	}

	// Проход 2: ссылки сцен на новые id, встроенные объекты - в имена
	out := make([]any, 0, len(stories))
	for si, st := range stories {
		scenes, _ := scenesOf(st, si)
		migrated := make([]any, 0, len(scenes))
		for _, sc := range scenes {
			migrated = append(migrated, rewriteScene(sc, cast, r))
		}
		st["scenes"] = migrated
		delete(st, "characters")
		if id, _ := st["id"].(string); id == "" {
			st["id"] = r.newID()
		}
		if title, _ := st["title"].(string); strings.TrimSpace(title) == "" {
			st["title"] = "Untitled Story"
		}
		out = append(out, st)
	}

	castOut := make([]any, 0, len(cast.cast))
	for _, m := range cast.cast {
		castOut = append(castOut, m)
	}
	return map[string]any{
		"version":     CurrentVersion,
		"characters":  castOut,
		"stories":     out,
		"lastUpdated": doc["lastUpdated"],
	}, nil
}

func scenesOf(st map[string]any, si int) ([]map[string]any, error) {
	raw := st["scenes"]
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("stories[%d].scenes must be an array", si)
	}
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		sc, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("stories[%d].scenes[%d] must be an object", si, i)
		}
		out = append(out, sc)
	}
	return out, nil
}

func registerAll(cast *castBuilder, list []any) {
	for _, item := range list {
		switch c := item.(type) {
		case map[string]any:
			cast.add(c)
		case string:
			cast.add(map[string]any{"name": c})
		}
	}
}

// rewriteScene заменяет встроенных персонажей ссылками на глобальный каст.
func rewriteScene(sc map[string]any, cast *castBuilder, r *run) map[string]any {
	var ids []string
	seen := map[string]bool{}
	push := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if list, ok := sc["characters"].([]any); ok {
		for _, item := range list {
			switch c := item.(type) {
			case map[string]any:
				id, _ := cast.add(c)
				push(id)
			case string:
				id, _ := cast.add(map[string]any{"name": c})
				push(id)
			}
		}
	}
	if list, ok := sc["characterIds"].([]any); ok {
		for _, item := range list {
			old, _ := item.(string)
			if id, ok := cast.byID[old]; ok {
				push(id)
			} else if old != "" {
				r.warn("scene %v references unknown character id %s", sc["id"], old)
			}
		}
	}

	names := make([]any, 0, len(ids))
	idList := make([]any, 0, len(ids))
	for _, id := range ids {
		idList = append(idList, id)
		if n := cast.nameOf(id); n != "" {
			names = append(names, n)
		}
	}
	sc["characterIds"] = idList
	sc["characters"] = names
	if id, _ := sc["id"].(string); id == "" {
		sc["id"] = r.newID()
	}
	return sc
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNonNil(vs ...any) any {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}
