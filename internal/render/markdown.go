package render

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"storybook-server/internal/domain"
)

var markdownParser = goldmark.New()

var headingScale = map[int]float64{1: 1.6, 2: 1.35, 3: 1.15}

func buildMarkdown(panel domain.DiagramPanel, faces *faceSet, fs float64, maxW int) (block, error) {
	src := []byte(panel.Content)
	doc := markdownParser.Parser().Parse(text.NewReader(src))

	b := &lineBlock{fs: fs, faces: faces}
	w := &mdWalker{src: src, out: b, maxW: maxW}
	w.blocks(doc, 0, false)
	return b, nil
}

type mdWalker struct {
	src  []byte
	out  *lineBlock
	maxW int
}

// add переносит строку по ширине и добавляет в блок.
func (w *mdWalker) add(l textLine) {
	w.out.lines = append(w.out.lines, wrapSpans(w.out, l, w.maxW)...)
}

func (w *mdWalker) blocks(parent ast.Node, depth int, quote bool) {
	role := roleText
	if quote {
		role = roleMuted
	}
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			scale, ok := headingScale[node.Level]
			if !ok {
				scale = 1.05
			}
			spans := w.inline(node, faceBold, roleAccent)
			w.add(textLine{spans: spans, scale: scale, gapEm: 0.35})
		case *ast.Paragraph, *ast.TextBlock:
			spans := w.inline(node, faceRegular, role)
			if quote {
				spans = append([]span{{text: "▍", kind: faceRegular, role: roleAccent}}, spans...)
			}
			w.add(textLine{spans: spans, indent: float64(depth) * 1.2, gapEm: 0.3})
		case *ast.List:
			w.list(node, depth, quote)
		case *ast.Blockquote:
			w.blocks(node, depth, true)
		case *ast.FencedCodeBlock:
			lang := string(node.Language(w.src))
			w.out.lines = append(w.out.lines, codeBlock(w.linesOf(node), lang, w.out.faces, w.out.fs).lines...)
			w.out.lines = append(w.out.lines, textLine{gapEm: 0.2})
		case *ast.CodeBlock:
			w.out.lines = append(w.out.lines, codeBlock(w.linesOf(node), "", w.out.faces, w.out.fs).lines...)
		case *ast.ThematicBreak:
			w.out.lines = append(w.out.lines, textLine{rule: true})
		default:
			w.blocks(node, depth, quote)
		}
	}
}

func (w *mdWalker) list(list *ast.List, depth int, quote bool) {
	idx := list.Start
	if idx == 0 {
		idx = 1
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "• "
		if list.IsOrdered() {
			marker = strconv.Itoa(idx) + ". "
			idx++
		}
		first := true
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch c.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				spans := w.inline(c, faceRegular, roleText)
				if first {
					spans = append([]span{{text: marker, kind: faceBold, role: roleAccent}}, spans...)
					first = false
				}
				w.add(textLine{spans: spans, indent: float64(depth+1) * 1.2, gapEm: 0.15})
			case *ast.List:
				w.list(c.(*ast.List), depth+1, quote)
			default:
				w.blocks(c, depth+1, quote)
			}
		}
	}
}

// inline собирает фрагменты строчного содержимого узла.
func (w *mdWalker) inline(n ast.Node, kind faceKind, role colorRole) []span {
	var out []span
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch node := c.(type) {
		case *ast.Text:
			t := string(node.Segment.Value(w.src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				t += " "
			}
			out = append(out, span{text: t, kind: kind, role: role})
		case *ast.String:
			out = append(out, span{text: string(node.Value), kind: kind, role: role})
		case *ast.CodeSpan:
			out = append(out, span{text: w.plain(node), kind: faceMono, role: roleString})
		case *ast.Emphasis:
			k := faceItalic
			if node.Level >= 2 {
				k = faceBold
			}
			out = append(out, w.inline(node, k, role)...)
		case *ast.Link:
			out = append(out, w.inline(node, kind, roleAccent)...)
		case *ast.AutoLink:
			out = append(out, span{text: string(node.URL(w.src)), kind: kind, role: roleAccent})
		default:
			out = append(out, w.inline(node, kind, role)...)
		}
	}
	return out
}

func (w *mdWalker) plain(n ast.Node) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(w.src))
		}
	}
	return sb.String()
}

func (w *mdWalker) linesOf(n ast.Node) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(w.src))
	}
	return sb.String()
}
