package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"regexp"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"storybook-server/internal/domain"
)

type flowDir string

const (
	dirTD flowDir = "TD"
	dirBT flowDir = "BT"
	dirLR flowDir = "LR"
	dirRL flowDir = "RL"
)

type nodeShape int

const (
	shapeRect nodeShape = iota
	shapeRound
	shapeDiamond
	shapeCircle
	shapeStadium
)

type flowNode struct {
	id    string
	label string
	shape nodeShape
	layer int
	order int

	// заполняются при верстке
	w, h float64
	x, y float64 // центр
}

type edgeStyle int

const (
	edgeSolid edgeStyle = iota
	edgeDotted
	edgeThick
)

type flowEdge struct {
	from, to string
	label    string
	style    edgeStyle
	arrow    bool
}

type flowchart struct {
	dir   flowDir
	nodes []*flowNode
	index map[string]*flowNode
	edges []flowEdge
}

var (
	headerRe = regexp.MustCompile(`^(?:graph|flowchart)(?:\s+(TD|TB|BT|LR|RL))?\s*$`)
	idRe     = regexp.MustCompile(`^[A-Za-z0-9_]+`)
	// оператор связи: --> --- -.-> -.- ==> === и форма "-- текст -->"
	edgeRe = regexp.MustCompile(`^(?:--\s*([^-|>][^>]*?)\s*(-->|---)|(-\.->|-\.-|==>|===|-->|---))(?:\|([^|]*)\|)?`)
)

// shapeDelims - открывающие/закрывающие скобки форм узлов, длинные раньше коротких.
var shapeDelims = []struct {
	open, close string
	shape       nodeShape
}{
	{"((", "))", shapeCircle},
	{"([", "])", shapeStadium},
	{"[", "]", shapeRect},
	{"(", ")", shapeRound},
	{"{", "}", shapeDiamond},
}

var skipStatements = []string{"subgraph", "end", "classDef", "class ", "style ", "click ", "linkStyle", "direction "}

// parseFlowchart разбирает подмножество mermaid flowchart. ok=false - не flowchart.
func parseFlowchart(src string) (*flowchart, bool) {
	fc := &flowchart{dir: dirTD, index: map[string]*flowNode{}}
	header := false
	for _, raw := range strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "%%") {
			continue
		}
		if !header {
			m := headerRe.FindStringSubmatch(line)
			if m == nil {
				return nil, false
			}
			switch m[1] {
			case "BT":
				fc.dir = dirBT
			case "LR":
				fc.dir = dirLR
			case "RL":
				fc.dir = dirRL
			}
			header = true
			continue
		}
		for _, stmt := range strings.Split(line, ";") {
			fc.statement(strings.TrimSpace(stmt))
		}
	}
	return fc, header
}

func (fc *flowchart) statement(s string) {
	if s == "" {
		return
	}
	for _, p := range skipStatements {
		if strings.HasPrefix(s, p) {
			return
		}
	}

	prev, rest, ok := fc.nodeRef(s)
	if !ok {
		return
	}
	for {
		rest = strings.TrimSpace(rest)
		m := edgeRe.FindStringSubmatch(rest)
		if m == nil {
			return
		}
		op, label := m[3], m[4]
		if m[2] != "" {
			op, label = m[2], m[1]
		}
		rest = strings.TrimSpace(rest[len(m[0]):])

		next, tail, ok := fc.nodeRef(rest)
		if !ok {
			return
		}
		e := flowEdge{from: prev, to: next, label: strings.TrimSpace(label)}
		switch op {
		case "-.->", "-.-":
			e.style = edgeDotted
		case "==>", "===":
			e.style = edgeThick
		}
		e.arrow = strings.HasSuffix(op, ">")
		fc.edges = append(fc.edges, e)
		prev, rest = next, tail
	}
}

// nodeRef читает "id" или "id[label]" и регистрирует узел.
func (fc *flowchart) nodeRef(s string) (id, rest string, ok bool) {
	id = idRe.FindString(s)
	if id == "" {
		return "", s, false
	}
	rest = s[len(id):]

	label, shape, explicit := id, shapeRect, false
	for _, d := range shapeDelims {
		if strings.HasPrefix(rest, d.open) {
			end := strings.Index(rest[len(d.open):], d.close)
			if end < 0 {
				break
			}
			label = strings.Trim(strings.TrimSpace(rest[len(d.open):len(d.open)+end]), `"`)
			rest = rest[len(d.open)+end+len(d.close):]
			shape, explicit = d.shape, true
			break
		}
	}

	n, exists := fc.index[id]
	if !exists {
		n = &flowNode{id: id, label: label, shape: shape}
		fc.index[id] = n
		fc.nodes = append(fc.nodes, n)
	} else if explicit {
		n.label, n.shape = label, shape
	}
	return id, rest, true
}

// assignLayers раскладывает узлы по слоям по длиннейшему пути, обратные ребра игнорируются.
func (fc *flowchart) assignLayers() {
	adj := map[string][]string{}
	for _, e := range fc.edges {
		adj[e.from] = append(adj[e.from], e.to)
	}

	const (
		white = iota
		grey
		black
	)
	state := map[string]int{}
	back := map[[2]string]bool{}
	var visit func(id string)
	visit = func(id string) {
		state[id] = grey
		for _, to := range adj[id] {
			switch state[to] {
			case grey:
				back[[2]string{id, to}] = true
			case white:
				visit(to)
			}
		}
		state[id] = black
	}
	for _, n := range fc.nodes {
		if state[n.id] == white {
			visit(n.id)
		}
	}

	for range fc.nodes {
		changed := false
		for _, e := range fc.edges {
			if back[[2]string{e.from, e.to}] || e.from == e.to {
				continue
			}
			from, to := fc.index[e.from], fc.index[e.to]
			if to.layer < from.layer+1 {
				to.layer = from.layer + 1
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	counts := map[int]int{}
	for _, n := range fc.nodes {
		n.order = counts[n.layer]
		counts[n.layer]++
	}
}

// flowBlock - сверстанная блок-схема.
type flowBlock struct {
	fc    *flowchart
	faces *faceSet
	fs    float64
	w, h  float64
}

func buildMermaid(panel domain.DiagramPanel, faces *faceSet, fs float64, _ int) (block, error) {
	fc, ok := parseFlowchart(panel.Content)
	if !ok || len(fc.nodes) == 0 {
		// неподдерживаемые виды диаграмм показываем исходником
		return codeBlock(panel.Content, "mermaid", faces, fs), nil
	}
	fc.assignLayers()

	b := &flowBlock{fc: fc, faces: faces, fs: fs}
	if err := b.layout(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *flowBlock) labelLines(n *flowNode) []string {
	s := strings.NewReplacer("<br/>", "\n", "<br>", "\n", "<br />", "\n").Replace(n.label)
	return strings.Split(s, "\n")
}

func (b *flowBlock) layout() error {
	face, err := b.faces.get(faceRegular, b.fs)
	if err != nil {
		return err
	}
	pad := b.fs * 0.6
	lh := float64(lineHeight(face))

	layers := map[int][]*flowNode{}
	maxLayer := 0
	for _, n := range b.fc.nodes {
		lines := b.labelLines(n)
		tw := 0.0
		for _, l := range lines {
			tw = math.Max(tw, float64(font.MeasureString(face, l).Ceil()))
		}
		n.w = tw + 2*pad
		n.h = float64(len(lines))*lh + 2*pad
		switch n.shape {
		case shapeDiamond:
			n.w, n.h = n.w*1.5, n.h*1.5
		case shapeCircle:
			d := math.Max(n.w, n.h)
			n.w, n.h = d, d
		}
		layers[n.layer] = append(layers[n.layer], n)
		maxLayer = max(maxLayer, n.layer)
	}

	horizontal := b.fc.dir == dirLR || b.fc.dir == dirRL
	gapMain := b.fs * 2.5  // между слоями
	gapCross := b.fs * 1.2 // между узлами в слое

	// толщина каждого слоя вдоль основной оси и длина поперек
	thick := make([]float64, maxLayer+1)
	extent := make([]float64, maxLayer+1)
	for l := 0; l <= maxLayer; l++ {
		for i, n := range layers[l] {
			along, across := n.h, n.w
			if horizontal {
				along, across = n.w, n.h
			}
			thick[l] = math.Max(thick[l], along)
			if i > 0 {
				extent[l] += gapCross
			}
			extent[l] += across
		}
	}
	total := 0.0
	for _, s := range extent {
		total = math.Max(total, s)
	}

	pos := 0.0
	for l := 0; l <= maxLayer; l++ {
		mid := pos + thick[l]/2
		cross := (total - extent[l]) / 2
		for _, n := range layers[l] {
			across := n.w
			if horizontal {
				across = n.h
			}
			c := cross + across/2
			if horizontal {
				n.x, n.y = mid, c
			} else {
				n.x, n.y = c, mid
			}
			cross += across + gapCross
		}
		pos += thick[l]
		if l < maxLayer {
			pos += gapMain
		}
	}

	if horizontal {
		b.w, b.h = pos, total
	} else {
		b.w, b.h = total, pos
	}

	// обратное направление - зеркалим основную ось
	for _, n := range b.fc.nodes {
		switch b.fc.dir {
		case dirBT:
			n.y = b.h - n.y
		case dirRL:
			n.x = b.w - n.x
		}
	}
	return nil
}

func (b *flowBlock) size() image.Point {
	return image.Pt(int(math.Ceil(b.w)), int(math.Ceil(b.h)))
}

// clipToBox возвращает точку на границе прямоугольника узла по направлению к (tx, ty).
func clipToBox(n *flowNode, tx, ty float64) (float64, float64) {
	dx, dy := tx-n.x, ty-n.y
	if dx == 0 && dy == 0 {
		return n.x, n.y
	}
	sx, sy := math.Inf(1), math.Inf(1)
	if dx != 0 {
		sx = (n.w / 2) / math.Abs(dx)
	}
	if dy != 0 {
		sy = (n.h / 2) / math.Abs(dy)
	}
	s := math.Min(sx, sy)
	return n.x + dx*s, n.y + dy*s
}

func (b *flowBlock) draw(dst draw.Image, area image.Rectangle, pal palette) {
	ox := float64(area.Min.X) + math.Max(0, (float64(area.Dx())-b.w)/2)
	oy := float64(area.Min.Y)

	face, err := b.faces.get(faceRegular, b.fs)
	if err != nil {
		return
	}
	small, err := b.faces.get(faceItalic, b.fs*0.8)
	if err != nil {
		small = face
	}
	lineW := math.Max(1.5, b.fs/10)
	fill := mix(pal.accent, color.NRGBA{pal.bg.R, pal.bg.G, pal.bg.B, 255}, 0.85)

	for _, e := range b.fc.edges {
		from, to := b.fc.index[e.from], b.fc.index[e.to]
		x0, y0 := clipToBox(from, to.x, to.y)
		x1, y1 := clipToBox(to, from.x, from.y)
		x0, y0, x1, y1 = x0+ox, y0+oy, x1+ox, y1+oy

		w := lineW
		if e.style == edgeThick {
			w *= 2
		}
		if e.style == edgeDotted {
			dashedLine(dst, x0, y0, x1, y1, w, b.fs*0.4, b.fs*0.3, pal.muted)
		} else {
			strokeLine(dst, x0, y0, x1, y1, w, pal.muted)
		}
		if e.arrow {
			arrowHead(dst, x0, y0, x1, y1, b.fs*0.6, pal.muted)
		}
		if e.label != "" {
			mx, my := (x0+x1)/2, (y0+y1)/2
			lw := float64(font.MeasureString(small, e.label).Ceil())
			lh := float64(lineHeight(small))
			box := rectF{mx - lw/2 - 4, my - lh/2 - 2, mx + lw/2 + 4, my + lh/2 + 2}
			fillRoundedRect(dst, box, 4, color.NRGBA{pal.bg.R, pal.bg.G, pal.bg.B, 255})
			drawLabel(dst, small, e.label, int(mx-lw/2), int(my-lh/2), pal.muted)
		}
	}

	for _, n := range b.fc.nodes {
		r := rectF{ox + n.x - n.w/2, oy + n.y - n.h/2, ox + n.x + n.w/2, oy + n.y + n.h/2}
		switch n.shape {
		case shapeDiamond:
			cx, cy := (r.X0+r.X1)/2, (r.Y0+r.Y1)/2
			fillPolygon(dst, [][2]float64{{cx, r.Y0}, {r.X1, cy}, {cx, r.Y1}, {r.X0, cy}}, pal.accent)
			in := lineW * 1.5
			fillPolygon(dst, [][2]float64{{cx, r.Y0 + in}, {r.X1 - in, cy}, {cx, r.Y1 - in}, {r.X0 + in, cy}}, fill)
		case shapeCircle:
			fillEllipse(dst, r, pal.accent)
			fillEllipse(dst, r.inset(lineW), fill)
		default:
			radius := 0.0
			switch n.shape {
			case shapeRound:
				radius = n.h * 0.25
			case shapeStadium:
				radius = n.h / 2
			}
			fillRoundedRect(dst, r, radius, fill)
			strokeRoundedRect(dst, r, radius, lineW, pal.accent)
		}

		lines := b.labelLines(n)
		lh := lineHeight(face)
		y := int(oy+n.y) - len(lines)*lh/2
		for _, l := range lines {
			lw := font.MeasureString(face, l).Ceil()
			drawLabel(dst, face, l, int(ox+n.x)-lw/2, y, pal.text)
			y += lh
		}
	}
}

// drawLabel рисует строку, (x, y) - левый верхний угол.
func drawLabel(dst draw.Image, face font.Face, s string, x, y int, c color.NRGBA) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
}
