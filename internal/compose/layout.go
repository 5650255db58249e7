package compose

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/disintegration/imaging"

	"storybook-server/internal/domain"
)

// PanelRenderer рисует панель ровно в заданном размере.
type PanelRenderer func(width, height int) (image.Image, error)

// Renderers - отрисовщики панелей пользовательской раскладки. nil означает,
// что панели нет.
type Renderers struct {
	Text    PanelRenderer
	Diagram PanelRenderer
}

type layer struct {
	name  string
	z     int
	order int
	rect  image.Rectangle
	draw  func(r image.Rectangle) (image.Image, error)
}

// ElementRect переводит процентный прямоугольник элемента в пиксели холста.
func ElementRect(canvas Size, el domain.LayoutElement) image.Rectangle {
	x := Percent(canvas.Width, el.X)
	y := Percent(canvas.Height, el.Y)
	w := Percent(canvas.Width, el.Width)
	h := Percent(canvas.Height, el.Height)
	r := image.Rect(x, y, x+w, y+h)
	return r.Intersect(image.Rect(0, 0, canvas.Width, canvas.Height))
}

// Layout собирает кадр по пользовательской раскладке. Элементы накладываются
// по возрастанию zIndex, при равенстве: изображение, текст, диаграмма.
func Layout(base image.Image, layout domain.SceneLayout, ratio string, r Renderers) (*image.NRGBA, error) {
	canvas := Size{Width: layout.Canvas.Width, Height: layout.Canvas.Height}
	if canvas.Width <= 0 || canvas.Height <= 0 {
		canvas.Width, canvas.Height = Dimensions(ratio)
	}
	full := image.Rect(0, 0, canvas.Width, canvas.Height)

	var layers []layer

	// без элемента image базовое изображение занимает весь холст на z=0
	imgLayer := layer{name: "image", rect: full, order: 0}
	if el := layout.Elements.Image; el != nil {
		imgLayer.rect = ElementRect(canvas, *el)
		imgLayer.z = el.ZIndex
	}
	imgLayer.draw = func(rect image.Rectangle) (image.Image, error) {
		if base == nil {
			return nil, fmt.Errorf("%w: base image is nil", domain.ErrInvalidInput)
		}
		return imaging.Fill(base, rect.Dx(), rect.Dy(), imaging.Center, imaging.Lanczos), nil
	}
	layers = append(layers, imgLayer)

	add := func(name string, order int, el *domain.LayoutElement, render PanelRenderer) {
		if el == nil || render == nil {
			return
		}
		layers = append(layers, layer{
			name:  name,
			z:     el.ZIndex,
			order: order,
			rect:  ElementRect(canvas, *el),
			draw: func(rect image.Rectangle) (image.Image, error) {
				return render(rect.Dx(), rect.Dy())
			},
		})
	}
	add("textPanel", 1, layout.Elements.TextPanel, r.Text)
	add("diagramPanel", 2, layout.Elements.DiagramPanel, r.Diagram)

	sort.SliceStable(layers, func(i, j int) bool {
		if layers[i].z != layers[j].z {
			return layers[i].z < layers[j].z
		}
		return layers[i].order < layers[j].order
	})

	out := imaging.New(canvas.Width, canvas.Height, color.NRGBA{0, 0, 0, 255})
	for _, l := range layers {
		if l.rect.Empty() {
			continue
		}
		img, err := l.draw(l.rect)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", l.name, err)
		}
		if img == nil {
			continue
		}
		out = imaging.Overlay(out, img, l.rect.Min, 1.0)
	}
	return out, nil
}
