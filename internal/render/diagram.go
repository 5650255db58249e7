package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"storybook-server/internal/domain"
)

const (
	defaultDiagramFontSize = 20
	minAutoScaleFontSize   = 8
)

// block - содержимое доски, сверстанное при конкретном кегле.
type block interface {
	size() image.Point
	draw(dst draw.Image, area image.Rectangle, pal palette)
}

// builder верстает содержимое диаграммы при кегле fs и ширине maxW.
type builder func(panel domain.DiagramPanel, faces *faceSet, fs float64, maxW int) (block, error)

var builders = map[domain.DiagramType]builder{
	domain.DiagramMermaid:  buildMermaid,
	domain.DiagramMath:     buildMath,
	domain.DiagramCode:     buildCode,
	domain.DiagramMarkdown: buildMarkdown,
}

// Diagram рисует диаграмму на "доске" размером width×height.
// height <= 0 означает высоту по содержимому.
func Diagram(panel domain.DiagramPanel, style domain.DiagramStyle, width, height int) (*image.NRGBA, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: diagram width must be positive", domain.ErrInvalidInput)
	}
	build, ok := builders[panel.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedDiagram, panel.Type)
	}

	faces := newFaceSet()
	defer faces.close()

	fs := style.FontSize
	if fs <= 0 {
		fs = defaultDiagramFontSize
	}
	bw := math.Max(0, style.BorderWidth)
	inset := int(math.Ceil(math.Max(0, style.Padding) + bw))
	innerW := max(1, width-2*inset)

	blk, err := build(panel, faces, fs, innerW)
	if err != nil {
		return nil, err
	}
	if height <= 0 {
		height = blk.size().Y + 2*inset
	}
	innerH := max(1, height-2*inset)

	if style.AutoScale {
		for fs > minAutoScaleFontSize {
			sz := blk.size()
			if sz.X <= innerW && sz.Y <= innerH {
				break
			}
			fs = math.Max(minAutoScaleFontSize, fs*0.9)
			if blk, err = build(panel, faces, fs, innerW); err != nil {
				return nil, err
			}
		}
	}

	pal := boardPalette(style)
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	full := rectFrom(img.Bounds())
	fillRoundedRect(img, full, style.BorderRadius, pal.bg)
	strokeRoundedRect(img, full, style.BorderRadius, bw, ParseColor(style.BorderColor, color.NRGBA{51, 51, 51, 255}))

	inner := image.Rect(inset, inset, inset+innerW, inset+innerH)
	clip := img.SubImage(inner).(*image.NRGBA)
	blk.draw(clip, inner, pal)

	return img, nil
}

func boardPalette(style domain.DiagramStyle) palette {
	bg := ParseColor(style.BackgroundColor, color.NRGBA{251, 250, 245, 255})
	text := ParseColor(style.TextColor, color.NRGBA{31, 41, 51, 255})
	accent := ParseColor(style.AccentColor, color.NRGBA{43, 108, 176, 255})
	opaqueBg := bg
	opaqueBg.A = 255
	return palette{
		bg:      bg,
		text:    text,
		accent:  accent,
		muted:   mix(text, opaqueBg, 0.5),
		str:     mix(color.NRGBA{47, 133, 90, 255}, text, 0.2),
		keyword: accent,
	}
}

// styleLookup - одно звено цепочки поиска стиля диаграммы.
type styleLookup func(scene domain.Scene, story *domain.Story) *domain.DiagramStyle

// diagramStyleChain - порядок приоритета: устаревший стиль сцены, затем стиль истории.
var diagramStyleChain = []styleLookup{
	func(scene domain.Scene, _ *domain.Story) *domain.DiagramStyle {
		if scene.DiagramPanel == nil {
			return nil
		}
		return scene.DiagramPanel.Style
	},
	func(_ domain.Scene, story *domain.Story) *domain.DiagramStyle {
		if story == nil {
			return nil
		}
		return story.DiagramStyle
	},
}

// ResolveDiagramStyle возвращает первый найденный стиль диаграммы.
// ok=false означает, что диаграмму нужно пропустить.
func ResolveDiagramStyle(scene domain.Scene, story *domain.Story) (domain.DiagramStyle, bool) {
	for _, lookup := range diagramStyleChain {
		if s := lookup(scene, story); s != nil {
			return *s, true
		}
	}
	return domain.DiagramStyle{}, false
}
