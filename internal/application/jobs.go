package application

import (
	"encoding/json"
	"fmt"

	"github.com/example/club-scheduler/internal/persistence"
)

// Job handler names.
const (
	HandlerInstanceTransition = "instance.transition"
	HandlerSeriesDeactivate   = "series.deactivate"
	HandlerSeriesGenerateNext = "series.generate_next"
)

type transitionPayload struct {
	InstanceID string                     `json:"instance_id"`
	Status     persistence.InstanceStatus `json:"status"`
}

type seriesPayload struct {
	SeriesID string `json:"series_id"`
}

type generateNextPayload struct {
	SeriesID string `json:"series_id"`
	From     string `json:"from"`
}

func decodePayload(handler string, payload []byte, target any) error {
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", handler, err)
	}
	return nil
}

// RegisterJobHandlers binds the lifecycle handlers to registry.
func RegisterJobHandlers(registry JobRegistry, series *SeriesService, transitions *TransitionScheduler) {
	registry.Register(HandlerInstanceTransition, transitions.HandleTransition)
	registry.Register(HandlerSeriesDeactivate, series.HandleDeactivate)
	registry.Register(HandlerSeriesGenerateNext, series.HandleGenerateNext)
}
