package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"storybook-server/internal/domain"
)

// CurrentVersion - версия формата данных, в которую приводится любой вход.
const CurrentVersion = "1.0.0"

const initialVersion = "0.0.0"

var (
	errUnsupportedInput = errors.New("unsupported input type")
	errNewerVersion     = errors.New("data version is newer than supported")
)

// AppData - данные приложения в текущем формате.
type AppData struct {
	Version     string             `json:"version"`
	Characters  []domain.Character `json:"characters"`
	Stories     []domain.Story     `json:"stories"`
	LastUpdated time.Time          `json:"lastUpdated"`
}

// Result - итог миграции. Ошибки не выбрасываются, а собираются в Errors.
type Result struct {
	Success     bool     `json:"success"`
	Data        AppData  `json:"data"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	FromVersion string   `json:"fromVersion"`
	ToVersion   string   `json:"toVersion"`
}

// step - переход между соседними версиями формата.
type step struct {
	from, to string
	apply    func(doc map[string]any, m *run) (map[string]any, error)
}

// chain - линейная цепочка шагов в порядке возрастания версий.
var chain = []step{
	{from: "0.0.0", to: "1.0.0", apply: migrateV0toV1},
}

// run - состояние одной миграции (предупреждения, генератор id).
type run struct {
	warnings []string
	newID    func() string
}

func (r *run) warn(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// Service приводит сохраненные данные любых прошлых версий к текущей.
type Service struct {
	logger *zap.Logger
	newID  func() string
}

// NewService создает сервис миграции.
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger.Named("MigrationService"), newID: newUUID}
}

func emptyResult() Result {
	return Result{
		Data:        AppData{Version: CurrentVersion, Characters: []domain.Character{}, Stories: []domain.Story{}},
		FromVersion: initialVersion,
		ToVersion:   CurrentVersion,
	}
}

// MigrateData принимает JSON-строку, []byte, json.RawMessage или map[string]any.
// Никогда не паникует: любая ошибка возвращается как Success=false.
func (s *Service) MigrateData(raw any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Migration panicked", zap.Any("panic", r))
			res = emptyResult()
			res.Errors = []string{fmt.Sprintf("migration failed: %v", r)}
		}
	}()

	doc, err := toDocument(raw)
	if err != nil {
		return s.fail(initialVersion, nil, err)
	}

	version := initialVersion
	if v, ok := doc["version"].(string); ok && strings.TrimSpace(v) != "" {
		version = strings.TrimSpace(v)
	}
	cmp, err := compareVersions(version, CurrentVersion)
	if err != nil {
		return s.fail(version, nil, err)
	}
	if cmp > 0 {
		return s.fail(version, nil, fmt.Errorf("%w: %s > %s", errNewerVersion, version, CurrentVersion))
	}

	r := &run{newID: s.newID}
	current := version
	for _, st := range chain {
		c, err := compareVersions(current, st.to)
		if err != nil {
			return s.fail(version, r.warnings, err)
		}
		if c >= 0 {
			continue
		}
		s.logger.Info("Applying data migration step", zap.String("from", st.from), zap.String("to", st.to))
		if doc, err = st.apply(doc, r); err != nil {
			return s.fail(version, r.warnings, fmt.Errorf("migration %s -> %s: %w", st.from, st.to, err))
		}
		current = st.to
	}
	doc["version"] = CurrentVersion

	normalizeDates(doc, "", r)

	data, err := decodeAppData(doc)
	if err != nil {
		return s.fail(version, r.warnings, err)
	}
	if data.Characters == nil {
		data.Characters = []domain.Character{}
	}
	if data.Stories == nil {
		data.Stories = []domain.Story{}
	}

	s.logger.Info("Data migrated",
		zap.String("from_version", version),
		zap.Int("stories", len(data.Stories)),
		zap.Int("characters", len(data.Characters)),
		zap.Int("warnings", len(r.warnings)),
	)
	return Result{
		Success:     true,
		Data:        data,
		Warnings:    r.warnings,
		FromVersion: version,
		ToVersion:   CurrentVersion,
	}
}

func (s *Service) fail(from string, warnings []string, err error) Result {
	s.logger.Warn("Data migration failed", zap.String("from_version", from), zap.Error(err))
	res := emptyResult()
	res.FromVersion = from
	res.Warnings = warnings
	res.Errors = []string{err.Error()}
	return res
}

// toDocument приводит вход к JSON-объекту.
func toDocument(raw any) (map[string]any, error) {
	var data []byte
	switch v := raw.(type) {
	case map[string]any:
		// копия через JSON, чтобы не менять вход вызывающего
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("invalid input object: %w", err)
		}
		data = b
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	case nil:
		return nil, fmt.Errorf("%w: nil", errUnsupportedInput)
	default:
		return nil, fmt.Errorf("%w: %T", errUnsupportedInput, raw)
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	doc, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level JSON value must be an object", errUnsupportedInput)
	}
	return doc, nil
}

func decodeAppData(doc map[string]any) (AppData, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return AppData{}, fmt.Errorf("failed to encode migrated data: %w", err)
	}
	var data AppData
	if err := json.Unmarshal(b, &data); err != nil {
		return AppData{}, fmt.Errorf("migrated data does not match the current format: %w", err)
	}
	return data, nil
}

// compareVersions сравнивает версии вида X.Y.Z посегментно как числа.
// Недостающие сегменты считаются нулями.
func compareVersions(a, b string) (int, error) {
	pa, err := parseVersion(a)
	if err != nil {
		return 0, err
	}
	pb, err := parseVersion(b)
	if err != nil {
		return 0, err
	}
	for i := 0; i < max(len(pa), len(pb)); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
	}
	return 0, nil
}

func parseVersion(v string) ([]int, error) {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version %q", v)
		}
		out[i] = n
	}
	return out, nil
}
