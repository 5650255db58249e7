package scene

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sceneGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_scene_generations_total",
			Help: "Total number of scene image generations.",
		},
		[]string{"status"}, // "success", "error"
	)

	overlayOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_overlay_outcomes_total",
			Help: "Total number of overlay stage outcomes by stage and status.",
		},
		[]string{"stage", "status"}, // status: "success", "degraded", "skipped"
	)

	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_scene_generation_duration_seconds",
			Help:    "Duration of scene image generation.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"stage"},
	)
)
