package reference

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storybook-server/internal/charimage"
	"storybook-server/internal/domain"
	"storybook-server/internal/imageapi"
)

var (
	referenceLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_reference_image_loads_total",
			Help: "Total number of character reference image loads.",
		},
		[]string{"status"}, // "success", "cache_hit", "error"
	)
)

// Result - загруженные референсы в порядке каста.
type Result struct {
	DataURLs []string
	// Loaded - имена персонажей, для которых референс успешно загружен.
	Loaded map[string]bool
}

// Loader превращает выбранные изображения персонажей в data URL.
type Loader struct {
	store  charimage.Store
	cache  *gocache.Cache
	logger *zap.Logger
}

// NewLoader создает загрузчик. cacheTTL <= 0 отключает кеш.
func NewLoader(store charimage.Store, cacheTTL time.Duration, logger *zap.Logger) *Loader {
	l := &Loader{
		store:  store,
		logger: logger.Named("ReferenceLoader"),
	}
	if cacheTTL > 0 {
		l.cache = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return l
}

// Load возвращает data URL для каждого персонажа, у которого есть выбранное изображение
// и соответствующая ему запись галереи. Ошибка загрузки одного персонажа
// логируется, и персонаж просто пропускается.
func (l *Loader) Load(ctx context.Context, members []domain.CastMember, storyID, bookID string) Result {
	res := Result{Loaded: make(map[string]bool)}

	for _, m := range members {
		img, ok := m.SelectedImage()
		if !ok {
			continue
		}
		key := m.StorageKey(storyID, bookID)
		log := l.logger.With(
			zap.String("character", m.Name),
			zap.String("scope", m.Scope.String()),
			zap.String("storage_key", key),
			zap.String("image_id", img.ID),
		)

		dataURL, err := l.loadOne(ctx, key, m.Name, img.ID)
		if err != nil {
			log.Warn("Failed to load reference image, skipping character", zap.Error(err))
			referenceLoads.WithLabelValues("error").Inc()
			continue
		}
		res.DataURLs = append(res.DataURLs, dataURL)
		res.Loaded[m.Name] = true
		log.Debug("Reference image loaded")
	}
	return res
}

func (l *Loader) loadOne(ctx context.Context, storageKey, name, imageID string) (string, error) {
	cacheKey := storageKey + "|" + name + "|" + imageID
	if l.cache != nil {
		if v, ok := l.cache.Get(cacheKey); ok {
			referenceLoads.WithLabelValues("cache_hit").Inc()
			return v.(string), nil
		}
	}

	data, err := l.store.Get(ctx, storageKey, name, imageID)
	if err != nil {
		return "", err
	}
	// Перекодируем в PNG, как это делает offscreen canvas
	dataURL, err := imageapi.ToPNGDataURL(data)
	if err != nil {
		return "", err
	}

	if l.cache != nil {
		l.cache.SetDefault(cacheKey, dataURL)
	}
	referenceLoads.WithLabelValues("success").Inc()
	return dataURL, nil
}
