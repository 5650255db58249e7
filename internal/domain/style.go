package domain

// Position - точка привязки панели (9 вариантов).
type Position string

const (
	PositionTopLeft      Position = "top-left"
	PositionTopCenter    Position = "top-center"
	PositionTopRight     Position = "top-right"
	PositionMiddleLeft   Position = "middle-left"
	PositionCenter       Position = "center"
	PositionMiddleRight  Position = "middle-right"
	PositionBottomLeft   Position = "bottom-left"
	PositionBottomCenter Position = "bottom-center"
	PositionBottomRight  Position = "bottom-right"
)

// TextAlign - горизонтальное выравнивание текста.
type TextAlign string

const (
	AlignLeft   TextAlign = "left"
	AlignCenter TextAlign = "center"
	AlignRight  TextAlign = "right"
)

// PanelConfig - оформление текстовой панели. Копируется по значению.
type PanelConfig struct {
	BackgroundColor  string    `json:"backgroundColor,omitempty"`
	BorderColor      string    `json:"borderColor,omitempty"`
	FontColor        string    `json:"fontColor,omitempty"`
	BorderWidth      float64   `json:"borderWidth,omitempty"`
	BorderRadius     float64   `json:"borderRadius,omitempty"`
	Padding          float64   `json:"padding,omitempty"`
	FontFamily       string    `json:"fontFamily,omitempty"`
	FontSize         float64   `json:"fontSize,omitempty"`
	TextAlign        TextAlign `json:"textAlign,omitempty"`
	Position         Position  `json:"position,omitempty"`
	WidthPercentage  float64   `json:"widthPercentage,omitempty"`
	HeightPercentage float64   `json:"heightPercentage,omitempty"` // 0 - высота по содержимому
	Margin           float64   `json:"margin,omitempty"`
}

// DefaultPanelConfig используется, если у книги нет собственного оформления панели.
func DefaultPanelConfig() PanelConfig {
	return PanelConfig{
		BackgroundColor: "rgba(255,255,255,0.85)",
		BorderColor:     "#222222",
		FontColor:       "#111111",
		BorderWidth:     2,
		BorderRadius:    12,
		Padding:         16,
		FontFamily:      "sans-serif",
		FontSize:        28,
		TextAlign:       AlignCenter,
		Position:        PositionBottomCenter,
		WidthPercentage: 90,
		Margin:          24,
	}
}

// DiagramType - вид содержимого диаграммы.
type DiagramType string

const (
	DiagramMermaid  DiagramType = "mermaid"
	DiagramMath     DiagramType = "math"
	DiagramCode     DiagramType = "code"
	DiagramMarkdown DiagramType = "markdown"
)

// DiagramPanel - диаграмма, прикрепленная к сцене.
type DiagramPanel struct {
	Type     DiagramType `json:"type"`
	Content  string      `json:"content"`
	Language string      `json:"language,omitempty"`
	// Style - устаревшее поле стиля на уровне сцены.
	Style *DiagramStyle `json:"style,omitempty"`
}

// DiagramStyle - оформление "доски" диаграммы.
type DiagramStyle struct {
	BackgroundColor  string   `json:"backgroundColor,omitempty"`
	BorderColor      string   `json:"borderColor,omitempty"`
	TextColor        string   `json:"textColor,omitempty"`
	AccentColor      string   `json:"accentColor,omitempty"`
	BorderWidth      float64  `json:"borderWidth,omitempty"`
	BorderRadius     float64  `json:"borderRadius,omitempty"`
	Padding          float64  `json:"padding,omitempty"`
	FontSize         float64  `json:"fontSize,omitempty"`
	Position         Position `json:"position,omitempty"`
	WidthPercentage  float64  `json:"widthPercentage,omitempty"`
	HeightPercentage float64  `json:"heightPercentage,omitempty"`
	Margin           float64  `json:"margin,omitempty"`
	AutoScale        bool     `json:"autoScale,omitempty"`
}

// SceneLayout - пользовательская раскладка сцены в процентах от холста.
type SceneLayout struct {
	Canvas   LayoutCanvas   `json:"canvas"`
	Elements LayoutElements `json:"elements"`
}

// LayoutCanvas - размер итогового холста в пикселях.
type LayoutCanvas struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LayoutElements - именованные элементы раскладки.
type LayoutElements struct {
	Image        *LayoutElement `json:"image,omitempty"`
	TextPanel    *LayoutElement `json:"textPanel,omitempty"`
	DiagramPanel *LayoutElement `json:"diagramPanel,omitempty"`
}

// LayoutElement - прямоугольник в процентах [0,100] и z-index.
type LayoutElement struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	ZIndex int     `json:"zIndex"`
}
