package compose

// Size - размер холста в пикселях.
type Size struct {
	Width  int
	Height int
}

const defaultAspect = "3:4"

var aspectSizes = map[string]Size{
	"1:1":  {1024, 1024},
	"3:4":  {1024, 1365},
	"4:3":  {1365, 1024},
	"2:3":  {1024, 1536},
	"3:2":  {1536, 1024},
	"16:9": {1792, 1024},
	"9:16": {1024, 1792},
}

// Dimensions возвращает размер холста для соотношения сторон. Неизвестное
// соотношение трактуется как 3:4.
func Dimensions(ratio string) (int, int) {
	s, ok := aspectSizes[ratio]
	if !ok {
		s = aspectSizes[defaultAspect]
	}
	return s.Width, s.Height
}

// KnownAspect сообщает, есть ли соотношение в таблице.
func KnownAspect(ratio string) bool {
	_, ok := aspectSizes[ratio]
	return ok
}

// Percent переводит проценты от total в пиксели, значения вне [0,100] обрезаются.
func Percent(total int, pct float64) int {
	return int(float64(total) * clampPct(pct) / 100)
}

func clampPct(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
