package scene

// Stage - на какой ступени закончилась сборка кадра.
type Stage int

const (
	// StageBase - итог совпадает с базовым изображением (оверлеев нет или они упали).
	StageBase Stage = iota
	// StageDefaultOverlay - панели наложены по позициям.
	StageDefaultOverlay
	// StageCustomLayout - кадр собран по пользовательской раскладке.
	StageCustomLayout
)

func (s Stage) String() string {
	switch s {
	case StageDefaultOverlay:
		return "default_overlay"
	case StageCustomLayout:
		return "custom_layout"
	default:
		return "base"
	}
}
