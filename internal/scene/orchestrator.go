package scene

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"storybook-server/internal/compose"
	"storybook-server/internal/domain"
	"storybook-server/internal/macro"
	"storybook-server/internal/render"
)

const (
	defaultDiagramWidthPct = 45
	defaultDiagramMargin   = 24
)

// Renderers - отрисовщики оверлеев. Подменяются в тестах.
type Renderers struct {
	TextPanel func(text string, cfg domain.PanelConfig, width, height int) (*image.NRGBA, error)
	Diagram   func(panel domain.DiagramPanel, style domain.DiagramStyle, width, height int) (*image.NRGBA, error)
}

// DefaultRenderers возвращает растеризаторы пакета render.
func DefaultRenderers() Renderers {
	return Renderers{TextPanel: render.TextPanel, Diagram: render.Diagram}
}

// Options - параметры полной генерации кадра.
type Options struct {
	SceneRequest
	ApplyOverlays bool
}

// Result - итог полной генерации.
type Result struct {
	URL   string
	Stage Stage
	// Degraded - оверлеи не удалось наложить, URL указывает на базовое изображение.
	Degraded   bool
	OverlayErr error
	Base       BaseImage
}

// GenerateCompleteSceneImage генерирует базовое изображение и накладывает на него
// текстовую панель и диаграмму. Ошибка оверлеев не является ошибкой вызова:
// возвращается базовый URL с Degraded=true.
func (s *Service) GenerateCompleteSceneImage(ctx context.Context, opts Options) (Result, error) {
	base, err := s.GenerateSceneImage(ctx, opts.SceneRequest)
	if err != nil {
		return Result{}, err
	}
	res := Result{URL: base.URL, Stage: StageBase, Base: base}

	if !opts.ApplyOverlays {
		return res, nil
	}
	sc := opts.Scene
	if !sc.HasTextPanel() && !sc.HasDiagram() {
		overlayOutcomes.WithLabelValues(StageBase.String(), "skipped").Inc()
		return res, nil
	}

	log := s.logger.With(zap.String("scene_id", sc.ID), zap.String("prompt_hash", base.PromptHash))
	stage := StageDefaultOverlay
	if sc.Layout != nil {
		stage = StageCustomLayout
	}

	start := time.Now()
	url, err := s.applyOverlays(ctx, opts.SceneRequest, base.URL, stage, log)
	generationDuration.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		overlayOutcomes.WithLabelValues(stage.String(), "degraded").Inc()
		log.Warn("Overlay stage failed, falling back to base image",
			zap.String("stage", stage.String()),
			zap.Error(err),
		)
		res.Degraded = true
		res.OverlayErr = err
		return res, nil
	}
	if url == "" {
		// ни одна панель не дошла до отрисовки
		overlayOutcomes.WithLabelValues(stage.String(), "skipped").Inc()
		return res, nil
	}

	overlayOutcomes.WithLabelValues(stage.String(), "success").Inc()
	log.Info("Overlays applied", zap.String("stage", stage.String()))
	res.URL = url
	res.Stage = stage
	return res, nil
}

// applyOverlays выполняет стадию оверлеев. Паника любого шага превращается в ошибку.
func (s *Service) applyOverlays(ctx context.Context, req SceneRequest, baseURL string, stage Stage, log *zap.Logger) (url string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrOverlayFailed, r)
		}
	}()

	if s.fetcher == nil {
		return "", fmt.Errorf("%w: image fetcher is not configured", domain.ErrOverlayFailed)
	}
	baseImg, err := s.fetcher.Fetch(ctx, baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: fetch base image: %v", domain.ErrOverlayFailed, err)
	}

	sc := req.Scene
	ratio := req.aspectRatio()
	text := ""
	if sc.HasTextPanel() {
		text = macro.Substitute(sc.TextPanel, macro.PanelValues(sc, req.Story, req.Book))
	}
	panelCfg := domain.DefaultPanelConfig()
	if req.Book != nil && req.Book.Style.PanelConfig != nil {
		panelCfg = *req.Book.Style.PanelConfig
	}

	var (
		diagram      domain.DiagramPanel
		diagramStyle domain.DiagramStyle
		hasDiagram   bool
	)
	if sc.HasDiagram() {
		if st, ok := render.ResolveDiagramStyle(sc, req.Story); ok {
			diagram, diagramStyle, hasDiagram = *sc.DiagramPanel, st, true
		} else {
			log.Warn("Diagram style not found, skipping diagram", zap.String("diagram_type", string(sc.DiagramPanel.Type)))
		}
	}
	if text == "" && !hasDiagram {
		return "", nil
	}

	var out *image.NRGBA
	switch stage {
	case StageCustomLayout:
		renderers := compose.Renderers{}
		if text != "" {
			renderers.Text = func(w, h int) (image.Image, error) {
				return s.renderers.TextPanel(text, panelCfg, w, h)
			}
		}
		if hasDiagram {
			renderers.Diagram = func(w, h int) (image.Image, error) {
				return s.renderers.Diagram(diagram, diagramStyle, w, h)
			}
		}
		out, err = compose.Layout(baseImg, *sc.Layout, ratio, renderers)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrOverlayFailed, err)
		}
	default:
		panels, err := s.defaultPanels(ratio, text, panelCfg, diagram, diagramStyle, hasDiagram)
		if err != nil {
			return "", err
		}
		out = compose.Overlay(baseImg, ratio, panels)
	}

	url, err = compose.EncodePNGDataURL(out)
	if err != nil {
		return "", fmt.Errorf("%w: encode: %v", domain.ErrOverlayFailed, err)
	}
	return url, nil
}

// defaultPanels рисует панели для режима наложения по позициям.
func (s *Service) defaultPanels(
	ratio, text string,
	cfg domain.PanelConfig,
	diagram domain.DiagramPanel,
	style domain.DiagramStyle,
	hasDiagram bool,
) ([]compose.Panel, error) {
	w, h := compose.Dimensions(ratio)
	var panels []compose.Panel

	if hasDiagram {
		width := compose.Percent(w, orDefault(style.WidthPercentage, defaultDiagramWidthPct))
		height := 0
		if style.HeightPercentage > 0 {
			height = compose.Percent(h, style.HeightPercentage)
		}
		img, err := s.renderers.Diagram(diagram, style, width, height)
		if err != nil {
			return nil, wrapOverlay("diagram", err)
		}
		pos := style.Position
		if pos == "" {
			pos = domain.PositionTopRight
		}
		panels = append(panels, compose.Panel{Image: img, Position: pos, Margin: int(orDefault(style.Margin, defaultDiagramMargin))})
	}

	if text != "" {
		width := compose.Percent(w, orDefault(cfg.WidthPercentage, 90))
		height := 0
		if cfg.HeightPercentage > 0 {
			height = compose.Percent(h, cfg.HeightPercentage)
		}
		img, err := s.renderers.TextPanel(text, cfg, width, height)
		if err != nil {
			return nil, wrapOverlay("text panel", err)
		}
		pos := cfg.Position
		if pos == "" {
			pos = domain.PositionBottomCenter
		}
		panels = append(panels, compose.Panel{Image: img, Position: pos, Margin: int(max(0, cfg.Margin))})
	}
	return panels, nil
}

func wrapOverlay(what string, err error) error {
	if errors.Is(err, domain.ErrOverlayFailed) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrOverlayFailed, what, err)
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
