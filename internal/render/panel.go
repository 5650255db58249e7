package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"storybook-server/internal/domain"
)

const defaultPanelFontSize = 24

// TextPanel рисует скругленную панель с рамкой, отступами и перенесенным текстом.
// height <= 0 означает высоту по содержимому.
func TextPanel(text string, cfg domain.PanelConfig, width, height int) (*image.NRGBA, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: text panel width must be positive", domain.ErrInvalidInput)
	}

	fs := cfg.FontSize
	if fs <= 0 {
		fs = defaultPanelFontSize
	}
	faces := newFaceSet()
	defer faces.close()

	face, err := faces.get(kindForFamily(cfg.FontFamily), fs)
	if err != nil {
		return nil, err
	}

	bw := math.Max(0, cfg.BorderWidth)
	inset := int(math.Ceil(math.Max(0, cfg.Padding) + bw))
	innerW := max(1, width-2*inset)

	lines := wrapText(text, face, innerW)
	lh := lineHeight(face)

	if height <= 0 {
		height = len(lines)*lh + 2*inset
	}
	innerH := height - 2*inset

	// Обрезаем строки, которые не помещаются, и помечаем обрез многоточием
	if maxLines := innerH / lh; maxLines >= 1 && len(lines) > maxLines {
		lines = lines[:maxLines]
		lines[maxLines-1] = ellipsize(lines[maxLines-1], face, innerW)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	full := rectFrom(img.Bounds())

	bg := ParseColor(cfg.BackgroundColor, color.NRGBA{255, 255, 255, 217})
	border := ParseColor(cfg.BorderColor, color.NRGBA{34, 34, 34, 255})
	fg := ParseColor(cfg.FontColor, color.NRGBA{17, 17, 17, 255})

	fillRoundedRect(img, full, cfg.BorderRadius, bg)
	strokeRoundedRect(img, full, cfg.BorderRadius, bw, border)

	ascent := face.Metrics().Ascent.Ceil()
	y := inset + max(0, (innerH-len(lines)*lh)/2)
	src := image.NewUniform(fg)
	for _, line := range lines {
		lw := font.MeasureString(face, line).Ceil()
		x := inset
		switch cfg.TextAlign {
		case domain.AlignCenter, "":
			x = inset + (innerW-lw)/2
		case domain.AlignRight:
			x = width - inset - lw
		}
		d := &font.Drawer{Dst: img, Src: src, Face: face, Dot: fixed.P(x, y+ascent)}
		d.DrawString(line)
		y += lh
	}
	return img, nil
}

// ellipsize укорачивает строку так, чтобы с "…" она помещалась в maxWidth.
func ellipsize(line string, face font.Face, maxWidth int) string {
	runes := []rune(line)
	for len(runes) > 0 {
		candidate := string(runes) + "…"
		if font.MeasureString(face, candidate).Ceil() <= maxWidth {
			return candidate
		}
		runes = runes[:len(runes)-1]
	}
	return "…"
}
