package render

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// faceKind - начертание шрифта.
type faceKind int

const (
	faceRegular faceKind = iota
	faceBold
	faceItalic
	faceMono
	faceMonoBold
)

var (
	parsedOnce  sync.Once
	parsedFonts map[faceKind]*opentype.Font
	parseErr    error
)

func loadFonts() (map[faceKind]*opentype.Font, error) {
	parsedOnce.Do(func() {
		sources := map[faceKind][]byte{
			faceRegular:  goregular.TTF,
			faceBold:     gobold.TTF,
			faceItalic:   goitalic.TTF,
			faceMono:     gomono.TTF,
			faceMonoBold: gomonobold.TTF,
		}
		parsedFonts = make(map[faceKind]*opentype.Font, len(sources))
		for k, ttf := range sources {
			f, err := opentype.Parse(ttf)
			if err != nil {
				parseErr = fmt.Errorf("failed to parse font %d: %w", k, err)
				return
			}
			parsedFonts[k] = f
		}
	})
	return parsedFonts, parseErr
}

// faceSet создает и кеширует font.Face в рамках одного рендера.
// font.Face из opentype не потокобезопасен, поэтому набор не разделяется между горутинами.
type faceSet struct {
	faces map[faceKey]font.Face
}

type faceKey struct {
	kind faceKind
	size int // кегль * 10
}

func newFaceSet() *faceSet {
	return &faceSet{faces: make(map[faceKey]font.Face)}
}

func (s *faceSet) get(kind faceKind, size float64) (font.Face, error) {
	if size < 4 {
		size = 4
	}
	key := faceKey{kind: kind, size: int(math.Round(size * 10))}
	if f, ok := s.faces[key]; ok {
		return f, nil
	}
	fonts, err := loadFonts()
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(fonts[kind], &opentype.FaceOptions{
		Size:    float64(key.size) / 10,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	s.faces[key] = face
	return face, nil
}

func (s *faceSet) close() {
	for _, f := range s.faces {
		_ = f.Close()
	}
}

// kindForFamily сопоставляет CSS font-family начертанию Go-шрифтов.
func kindForFamily(family string) faceKind {
	f := strings.ToLower(family)
	switch {
	case strings.Contains(f, "mono"), strings.Contains(f, "courier"), strings.Contains(f, "code"):
		if strings.Contains(f, "bold") {
			return faceMonoBold
		}
		return faceMono
	case strings.Contains(f, "bold"), strings.Contains(f, "impact"), strings.Contains(f, "comic"):
		return faceBold
	case strings.Contains(f, "italic"), strings.Contains(f, "cursive"):
		return faceItalic
	default:
		return faceRegular
	}
}

// lineHeight возвращает межстрочный интервал для face.
func lineHeight(face font.Face) int {
	m := face.Metrics()
	h := m.Height.Ceil()
	if asc := (m.Ascent + m.Descent).Ceil(); asc > h {
		h = asc
	}
	return h
}
