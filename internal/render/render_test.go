package render

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-server/internal/domain"
)

func TestParseColor(t *testing.T) {
	fallback := color.NRGBA{1, 2, 3, 4}
	tests := []struct {
		in   string
		want color.NRGBA
	}{
		{"#fff", color.NRGBA{255, 255, 255, 255}},
		{"#ff000080", color.NRGBA{255, 0, 0, 128}},
		{"rgb(10, 20, 30)", color.NRGBA{10, 20, 30, 255}},
		{"rgba(255,255,255,0.5)", color.NRGBA{255, 255, 255, 128}},
		{"white", color.NRGBA{255, 255, 255, 255}},
		{"", fallback},
		{"not-a-color", fallback},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseColor(tt.in, fallback))
		})
	}
}

func TestTextPanel_AutoHeight(t *testing.T) {
	cfg := domain.DefaultPanelConfig()

	short, err := TextPanel("Once upon a time.", cfg, 600, 0)
	require.NoError(t, err)
	long, err := TextPanel("Once upon a time there was a fox who lived at the edge of a very large and very dark forest, and every evening she walked to the river.", cfg, 600, 0)
	require.NoError(t, err)

	assert.Equal(t, 600, short.Bounds().Dx())
	assert.Greater(t, long.Bounds().Dy(), short.Bounds().Dy())
}

func TestTextPanel_FixedHeight(t *testing.T) {
	img, err := TextPanel("A very long line of text that will certainly not fit in a tiny box", domain.PanelConfig{FontSize: 20}, 200, 40)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())
}

func TestTextPanel_InvalidWidth(t *testing.T) {
	_, err := TextPanel("x", domain.PanelConfig{}, 0, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDiagram_UnsupportedType(t *testing.T) {
	_, err := Diagram(domain.DiagramPanel{Type: "plantuml", Content: "@startuml"}, domain.DiagramStyle{}, 400, 300)
	assert.ErrorIs(t, err, domain.ErrUnsupportedDiagram)
}

func TestDiagram_AllTypes(t *testing.T) {
	panels := []domain.DiagramPanel{
		{Type: domain.DiagramMermaid, Content: "graph TD\n  A[Start] --> B{Choice}\n  B -->|yes| C((End))\n  B -.-> A"},
		{Type: domain.DiagramMermaid, Content: "sequenceDiagram\n  Alice->>Bob: Hi"},
		{Type: domain.DiagramMath, Content: `E = mc^2 \\ \frac{a}{b} + \sqrt{x}`},
		{Type: domain.DiagramCode, Content: "func main() {\n\t// hi\n\tfmt.Println(\"hello\")\n}", Language: "go"},
		{Type: domain.DiagramMarkdown, Content: "# Title\n\nSome *emphasis* and **bold**.\n\n- one\n- two\n\n> quote\n\n---\n\n```go\nx := 1\n```"},
	}
	for _, p := range panels {
		t.Run(string(p.Type), func(t *testing.T) {
			img, err := Diagram(p, domain.DiagramStyle{Padding: 12, BorderWidth: 2, AutoScale: true}, 500, 360)
			require.NoError(t, err)
			assert.Equal(t, 500, img.Bounds().Dx())
			assert.Equal(t, 360, img.Bounds().Dy())
		})
	}
}

func TestDiagram_AutoHeight(t *testing.T) {
	img, err := Diagram(domain.DiagramPanel{Type: domain.DiagramCode, Content: "a\nb\nc"}, domain.DiagramStyle{}, 300, 0)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dy())
}

func TestResolveDiagramStyle(t *testing.T) {
	legacy := &domain.DiagramStyle{BackgroundColor: "#000"}
	storyStyle := &domain.DiagramStyle{BackgroundColor: "#fff"}

	t.Run("legacy scene style wins", func(t *testing.T) {
		scene := domain.Scene{DiagramPanel: &domain.DiagramPanel{Style: legacy}}
		got, ok := ResolveDiagramStyle(scene, &domain.Story{DiagramStyle: storyStyle})
		require.True(t, ok)
		assert.Equal(t, "#000", got.BackgroundColor)
	})

	t.Run("story style", func(t *testing.T) {
		scene := domain.Scene{DiagramPanel: &domain.DiagramPanel{}}
		got, ok := ResolveDiagramStyle(scene, &domain.Story{DiagramStyle: storyStyle})
		require.True(t, ok)
		assert.Equal(t, "#fff", got.BackgroundColor)
	})

	t.Run("no style", func(t *testing.T) {
		_, ok := ResolveDiagramStyle(domain.Scene{DiagramPanel: &domain.DiagramPanel{}}, &domain.Story{})
		assert.False(t, ok)
	})
}

func TestParseFlowchart(t *testing.T) {
	fc, ok := parseFlowchart("flowchart LR\n  A[Wake up] --> B(Eat) ; B -- later --> C{Sleep?}\n  C ==>|no| A\n  %% comment\n  style A fill:#f9f")
	require.True(t, ok)
	assert.Equal(t, dirLR, fc.dir)
	require.Len(t, fc.nodes, 3)
	assert.Equal(t, "Wake up", fc.index["A"].label)
	assert.Equal(t, shapeRound, fc.index["B"].shape)
	assert.Equal(t, shapeDiamond, fc.index["C"].shape)

	require.Len(t, fc.edges, 3)
	assert.Equal(t, "later", fc.edges[1].label)
	assert.Equal(t, "no", fc.edges[2].label)
	assert.Equal(t, edgeThick, fc.edges[2].style)

	fc.assignLayers()
	assert.Equal(t, 0, fc.index["A"].layer)
	assert.Equal(t, 1, fc.index["B"].layer)
	assert.Equal(t, 2, fc.index["C"].layer)
}

func TestParseFlowchart_NotFlowchart(t *testing.T) {
	_, ok := parseFlowchart("pie title Pets\n \"Dogs\" : 386")
	assert.False(t, ok)
}

func TestTexToUnicode(t *testing.T) {
	tests := map[string]string{
		`x^2 + y^2`:           "x² + y²",
		`\frac{a+b}{2}`:       "(a+b)/2",
		`\sqrt{x}`:            "√x",
		`\alpha \leq \beta`:   "α ≤ β",
		`\int_0^1 f(x)`:       "∫_0¹ f(x)",
		`e^{i\pi}`:            "e^(iπ)",
		`$\sum_{i=1}^n i$`:    "∑_(i=1)ⁿ i",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, texToUnicode(in))
		})
	}
}

func TestWrapText_KeepsNewlines(t *testing.T) {
	faces := newFaceSet()
	defer faces.close()
	face, err := faces.get(faceRegular, 16)
	require.NoError(t, err)

	lines := wrapText("first\n\nsecond", face, 1000)
	assert.Equal(t, []string{"first", "", "second"}, lines)
}
