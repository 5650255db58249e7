package compose

import (
	"image"

	"github.com/disintegration/imaging"

	"storybook-server/internal/domain"
	"storybook-server/internal/imageapi"
)

// Panel - готовый bitmap оверлея и его привязка к холсту.
type Panel struct {
	Image    image.Image
	Position domain.Position
	Margin   int
}

// Overlay приводит базовое изображение к размеру соотношения сторон и
// накладывает панели по их позициям в порядке следования.
func Overlay(base image.Image, ratio string, panels []Panel) *image.NRGBA {
	w, h := Dimensions(ratio)
	canvas := imaging.Resize(base, w, h, imaging.Lanczos)

	for _, p := range panels {
		if p.Image == nil {
			continue
		}
		pt := Anchor(image.Rect(0, 0, w, h), p.Image.Bounds().Size(), p.Position, p.Margin)
		canvas = imaging.Overlay(canvas, p.Image, pt, 1.0)
	}
	return canvas
}

// Anchor вычисляет левый верхний угол панели size внутри area для позиции
// по 9-точечной розе с отступом margin от краев.
func Anchor(area image.Rectangle, size image.Point, pos domain.Position, margin int) image.Point {
	if margin < 0 {
		margin = 0
	}
	left := area.Min.X + margin
	right := area.Max.X - margin - size.X
	centerX := area.Min.X + (area.Dx()-size.X)/2
	top := area.Min.Y + margin
	bottom := area.Max.Y - margin - size.Y
	centerY := area.Min.Y + (area.Dy()-size.Y)/2

	switch pos {
	case domain.PositionTopLeft:
		return image.Pt(left, top)
	case domain.PositionTopCenter:
		return image.Pt(centerX, top)
	case domain.PositionTopRight:
		return image.Pt(right, top)
	case domain.PositionMiddleLeft:
		return image.Pt(left, centerY)
	case domain.PositionCenter:
		return image.Pt(centerX, centerY)
	case domain.PositionMiddleRight:
		return image.Pt(right, centerY)
	case domain.PositionBottomLeft:
		return image.Pt(left, bottom)
	case domain.PositionBottomRight:
		return image.Pt(right, bottom)
	default:
		return image.Pt(centerX, bottom)
	}
}

// EncodePNGDataURL кодирует итоговый холст в data:image/png;base64.
func EncodePNGDataURL(img image.Image) (string, error) {
	return imageapi.EncodePNGDataURL(img)
}
