package render

import (
	"image"
	"image/color"
	"image/draw"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// colorRole - роль цвета внутри палитры доски.
type colorRole int

const (
	roleText colorRole = iota
	roleAccent
	roleMuted
	roleString
	roleKeyword
)

// palette - цвета, которыми рисуется содержимое.
type palette struct {
	bg, text, accent, muted, str, keyword color.NRGBA
}

func (p palette) color(r colorRole) color.NRGBA {
	switch r {
	case roleAccent:
		return p.accent
	case roleMuted:
		return p.muted
	case roleString:
		return p.str
	case roleKeyword:
		return p.keyword
	default:
		return p.text
	}
}

// span - фрагмент текста одного начертания и цвета.
type span struct {
	text string
	kind faceKind
	role colorRole
}

// textLine - строка из фрагментов.
type textLine struct {
	spans  []span
	scale  float64 // относительно базового кегля
	indent float64 // в пикселях при базовом кегле 1.0 (умножается на кегль)
	gapEm  float64 // доп. отступ после строки, в долях кегля
	align  TextAlignment
	rule   bool // горизонтальная линия вместо текста
}

// TextAlignment - выравнивание строки внутри области.
type TextAlignment int

const (
	alignLeft TextAlignment = iota
	alignCenter
	alignRight
)

// lineBlock - набор строк, готовых к отрисовке при заданном кегле.
type lineBlock struct {
	lines []textLine
	fs    float64
	faces *faceSet
}

func (b *lineBlock) lineFace(l textLine, sp span) (font.Face, error) {
	scale := l.scale
	if scale == 0 {
		scale = 1
	}
	return b.faces.get(sp.kind, b.fs*scale)
}

func (b *lineBlock) lineMetrics(l textLine) (height, ascent int) {
	kind := faceRegular
	if len(l.spans) > 0 {
		kind = l.spans[0].kind
	}
	face, err := b.lineFace(l, span{kind: kind})
	if err != nil {
		return int(b.fs), int(b.fs)
	}
	return lineHeight(face), face.Metrics().Ascent.Ceil()
}

func (b *lineBlock) lineWidth(l textLine) int {
	w := 0
	for _, sp := range l.spans {
		face, err := b.lineFace(l, sp)
		if err != nil {
			continue
		}
		w += font.MeasureString(face, sp.text).Ceil()
	}
	return w + int(l.indent*b.fs)
}

// size возвращает размер блока в пикселях.
func (b *lineBlock) size() image.Point {
	var w, h int
	for _, l := range b.lines {
		lh, _ := b.lineMetrics(l)
		h += lh + int(l.gapEm*b.fs)
		if lw := b.lineWidth(l); lw > w {
			w = lw
		}
	}
	return image.Pt(w, h)
}

// draw рисует блок в области area, начиная сверху.
func (b *lineBlock) draw(dst draw.Image, area image.Rectangle, pal palette) {
	y := area.Min.Y
	for _, l := range b.lines {
		lh, asc := b.lineMetrics(l)
		if l.rule {
			mid := float64(y + lh/2)
			strokeLine(dst, float64(area.Min.X), mid, float64(area.Max.X), mid, max(1, b.fs/12), pal.muted)
			y += lh + int(l.gapEm*b.fs)
			continue
		}

		lw := b.lineWidth(l)
		x := area.Min.X + int(l.indent*b.fs)
		switch l.align {
		case alignCenter:
			x = area.Min.X + (area.Dx()-lw)/2 + int(l.indent*b.fs)
		case alignRight:
			x = area.Max.X - lw + int(l.indent*b.fs)
		}

		dot := fixed.P(x, y+asc)
		for _, sp := range l.spans {
			face, err := b.lineFace(l, sp)
			if err != nil {
				continue
			}
			d := &font.Drawer{
				Dst:  dst,
				Src:  image.NewUniform(pal.color(sp.role)),
				Face: face,
				Dot:  dot,
			}
			d.DrawString(sp.text)
			dot = d.Dot
		}
		y += lh + int(l.gapEm*b.fs)
	}
}

// wrapText разбивает текст на строки не шире maxWidth. Переводы строк сохраняются,
// слишком длинные слова режутся по рунам.
func wrapText(text string, face font.Face, maxWidth int) []string {
	var lines []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := ""
		for _, word := range words {
			for _, piece := range breakWord(word, face, maxWidth) {
				trial := piece
				if current != "" {
					trial = current + " " + piece
				}
				if current == "" || font.MeasureString(face, trial).Ceil() <= maxWidth {
					current = trial
				} else {
					lines = append(lines, current)
					current = piece
				}
			}
		}
		lines = append(lines, current)
	}
	return lines
}

// breakWord режет слово, которое не помещается в maxWidth целиком.
func breakWord(word string, face font.Face, maxWidth int) []string {
	if maxWidth <= 0 || font.MeasureString(face, word).Ceil() <= maxWidth {
		return []string{word}
	}
	var parts []string
	start := 0
	for i := 0; i < len(word); {
		_, size := utf8.DecodeRuneInString(word[i:])
		next := i + size
		if i > start && font.MeasureString(face, word[start:next]).Ceil() > maxWidth {
			parts = append(parts, word[start:i])
			start = i
		}
		i = next
	}
	return append(parts, word[start:])
}

// wrapSpans переносит строку из фрагментов по словам, сохраняя начертание.
func wrapSpans(b *lineBlock, l textLine, maxWidth int) []textLine {
	type word struct {
		sp    span
		space bool // перед словом был пробел
	}
	var words []word
	trailing := false
	for _, sp := range l.spans {
		leading := strings.HasPrefix(sp.text, " ") || trailing
		for i, f := range strings.Fields(sp.text) {
			words = append(words, word{sp: span{text: f, kind: sp.kind, role: sp.role}, space: i > 0 || leading})
		}
		if sp.text != "" {
			trailing = strings.HasSuffix(sp.text, " ")
		}
	}
	if len(words) == 0 {
		return []textLine{l}
	}

	indent := int(l.indent * b.fs)
	var out []textLine
	cur := textLine{scale: l.scale, indent: l.indent, align: l.align}
	width := indent
	for _, w := range words {
		face, err := b.lineFace(l, w.sp)
		if err != nil {
			continue
		}
		text := w.sp.text
		if len(cur.spans) > 0 && w.space {
			text = " " + text
		}
		ww := font.MeasureString(face, text).Ceil()
		if len(cur.spans) > 0 && width+ww > maxWidth {
			out = append(out, cur)
			cur = textLine{scale: l.scale, indent: l.indent, align: l.align}
			width = indent
			text = w.sp.text
			ww = font.MeasureString(face, text).Ceil()
		}
		cur.spans = append(cur.spans, span{text: text, kind: w.sp.kind, role: w.sp.role})
		width += ww
	}
	cur.gapEm = l.gapEm
	return append(out, cur)
}
