package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
)

// kappa - коэффициент кубической аппроксимации четверти окружности.
const kappa = 0.5523

// rectF - прямоугольник в float-координатах.
type rectF struct {
	X0, Y0, X1, Y1 float64
}

func rectFrom(r image.Rectangle) rectF {
	return rectF{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)}
}

func (r rectF) inset(d float64) rectF {
	return rectF{r.X0 + d, r.Y0 + d, r.X1 - d, r.Y1 - d}
}

func (r rectF) w() float64 { return r.X1 - r.X0 }
func (r rectF) h() float64 { return r.Y1 - r.Y0 }

// painter рисует антиалиасные фигуры через vector.Rasterizer.
type painter struct {
	dst draw.Image
	b   image.Rectangle
	z   *vector.Rasterizer
}

func newPainter(dst draw.Image) *painter {
	b := dst.Bounds()
	return &painter{dst: dst, b: b, z: vector.NewRasterizer(b.Dx(), b.Dy())}
}

func (p *painter) begin() {
	p.z.Reset(p.b.Dx(), p.b.Dy())
	p.z.DrawOp = draw.Over
}

func (p *painter) pt(x, y float64) (float32, float32) {
	return float32(x - float64(p.b.Min.X)), float32(y - float64(p.b.Min.Y))
}

func (p *painter) moveTo(x, y float64) { p.z.MoveTo(p.pt(x, y)) }
func (p *painter) lineTo(x, y float64) { p.z.LineTo(p.pt(x, y)) }

func (p *painter) cubeTo(bx, by, cx, cy, dx, dy float64) {
	x1, y1 := p.pt(bx, by)
	x2, y2 := p.pt(cx, cy)
	x3, y3 := p.pt(dx, dy)
	p.z.CubeTo(x1, y1, x2, y2, x3, y3)
}

func (p *painter) fill(c color.Color) {
	p.z.Draw(p.dst, p.b, image.NewUniform(c), image.Point{})
}

// roundedRect добавляет контур скругленного прямоугольника.
// reverse=true обходит контур в обратную сторону (для вырезания).
func (p *painter) roundedRect(r rectF, radius float64, reverse bool) {
	radius = math.Max(0, math.Min(radius, math.Min(r.w(), r.h())/2))
	k := radius * kappa
	x0, y0, x1, y1 := r.X0, r.Y0, r.X1, r.Y1

	if !reverse {
		p.moveTo(x0+radius, y0)
		p.lineTo(x1-radius, y0)
		p.cubeTo(x1-radius+k, y0, x1, y0+radius-k, x1, y0+radius)
		p.lineTo(x1, y1-radius)
		p.cubeTo(x1, y1-radius+k, x1-radius+k, y1, x1-radius, y1)
		p.lineTo(x0+radius, y1)
		p.cubeTo(x0+radius-k, y1, x0, y1-radius+k, x0, y1-radius)
		p.lineTo(x0, y0+radius)
		p.cubeTo(x0, y0+radius-k, x0+radius-k, y0, x0+radius, y0)
	} else {
		p.moveTo(x0+radius, y0)
		p.cubeTo(x0+radius-k, y0, x0, y0+radius-k, x0, y0+radius)
		p.lineTo(x0, y1-radius)
		p.cubeTo(x0, y1-radius+k, x0+radius-k, y1, x0+radius, y1)
		p.lineTo(x1-radius, y1)
		p.cubeTo(x1-radius+k, y1, x1, y1-radius+k, x1, y1-radius)
		p.lineTo(x1, y0+radius)
		p.cubeTo(x1, y0+radius-k, x1-radius+k, y0, x1-radius, y0)
	}
	p.z.ClosePath()
}

// fillRoundedRect заливает скругленный прямоугольник.
func fillRoundedRect(dst draw.Image, r rectF, radius float64, c color.Color) {
	if r.w() <= 0 || r.h() <= 0 {
		return
	}
	p := newPainter(dst)
	p.begin()
	p.roundedRect(r, radius, false)
	p.fill(c)
}

// strokeRoundedRect рисует рамку толщиной width внутрь прямоугольника r.
func strokeRoundedRect(dst draw.Image, r rectF, radius, width float64, c color.Color) {
	if width <= 0 || r.w() <= 0 || r.h() <= 0 {
		return
	}
	inner := r.inset(width)
	p := newPainter(dst)
	p.begin()
	p.roundedRect(r, radius, false)
	if inner.w() > 0 && inner.h() > 0 {
		p.roundedRect(inner, math.Max(0, radius-width), true)
	}
	p.fill(c)
}

// fillPolygon заливает многоугольник.
func fillPolygon(dst draw.Image, pts [][2]float64, c color.Color) {
	if len(pts) < 3 {
		return
	}
	p := newPainter(dst)
	p.begin()
	p.moveTo(pts[0][0], pts[0][1])
	for _, q := range pts[1:] {
		p.lineTo(q[0], q[1])
	}
	p.z.ClosePath()
	p.fill(c)
}

// strokeLine рисует отрезок заданной толщины.
func strokeLine(dst draw.Image, x0, y0, x1, y1, width float64, c color.Color) {
	dx, dy := x1-x0, y1-y0
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}
	nx, ny := -dy/l*width/2, dx/l*width/2
	fillPolygon(dst, [][2]float64{
		{x0 + nx, y0 + ny},
		{x1 + nx, y1 + ny},
		{x1 - nx, y1 - ny},
		{x0 - nx, y0 - ny},
	}, c)
}

// dashedLine рисует пунктир из отрезков dash с промежутком gap.
func dashedLine(dst draw.Image, x0, y0, x1, y1, width, dash, gap float64, c color.Color) {
	l := math.Hypot(x1-x0, y1-y0)
	if l == 0 {
		return
	}
	ux, uy := (x1-x0)/l, (y1-y0)/l
	for s := 0.0; s < l; s += dash + gap {
		e := math.Min(s+dash, l)
		strokeLine(dst, x0+ux*s, y0+uy*s, x0+ux*e, y0+uy*e, width, c)
	}
}

// arrowHead рисует треугольник стрелки с вершиной в (x1, y1), направленный от (x0, y0).
func arrowHead(dst draw.Image, x0, y0, x1, y1, size float64, c color.Color) {
	l := math.Hypot(x1-x0, y1-y0)
	if l == 0 {
		return
	}
	ux, uy := (x1-x0)/l, (y1-y0)/l
	bx, by := x1-ux*size, y1-uy*size
	nx, ny := -uy*size/2, ux*size/2
	fillPolygon(dst, [][2]float64{{x1, y1}, {bx + nx, by + ny}, {bx - nx, by - ny}}, c)
}

// fillEllipse заливает эллипс, вписанный в r.
func fillEllipse(dst draw.Image, r rectF, c color.Color) {
	cx, cy := (r.X0+r.X1)/2, (r.Y0+r.Y1)/2
	rx, ry := r.w()/2, r.h()/2
	kx, ky := rx*kappa, ry*kappa
	p := newPainter(dst)
	p.begin()
	p.moveTo(cx+rx, cy)
	p.cubeTo(cx+rx, cy+ky, cx+kx, cy+ry, cx, cy+ry)
	p.cubeTo(cx-kx, cy+ry, cx-rx, cy+ky, cx-rx, cy)
	p.cubeTo(cx-rx, cy-ky, cx-kx, cy-ry, cx, cy-ry)
	p.cubeTo(cx+kx, cy-ry, cx+rx, cy-ky, cx+rx, cy)
	p.z.ClosePath()
	p.fill(c)
}
