package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

type RouterConfig struct {
	Series    *SeriesHandler
	Instances *InstanceHandler
	// Auth guards every API route. Health checks stay open.
	Auth       func(http.Handler) http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	if cfg.Auth != nil {
		api.Use(cfg.Auth)
	}

	if cfg.Series != nil {
		api.HandleFunc("/series", cfg.Series.Create).Methods(http.MethodPost)
		api.HandleFunc("/series/{seriesID}", cfg.Series.Get).Methods(http.MethodGet)
		api.HandleFunc("/series/{seriesID}", cfg.Series.Update).Methods(http.MethodPatch)
		api.HandleFunc("/series/{seriesID}", cfg.Series.Delete).Methods(http.MethodDelete)
		api.HandleFunc("/series/{seriesID}/activate", cfg.Series.Activate).Methods(http.MethodPost)
		api.HandleFunc("/series/{seriesID}/deactivation", cfg.Series.DeactivationStatus).Methods(http.MethodGet)
		api.HandleFunc("/series/{seriesID}/instances/{date}", cfg.Series.InstanceAtDate).Methods(http.MethodGet)
	}

	if cfg.Instances != nil {
		api.HandleFunc("/clubs/{clubID}/instances", cfg.Instances.ListForClub).Methods(http.MethodGet)
		api.HandleFunc("/instances/{instanceID}", cfg.Instances.Get).Methods(http.MethodGet)
		api.HandleFunc("/instances/{instanceID}", cfg.Instances.Delete).Methods(http.MethodDelete)
		api.HandleFunc("/instances/{instanceID}/cancel", cfg.Instances.Cancel).Methods(http.MethodPost)
		api.HandleFunc("/instances/{instanceID}/schedule", cfg.Instances.ScheduleStatuses).Methods(http.MethodGet)
		api.HandleFunc("/instances/{instanceID}/timeslots/{timeslotID}/participants", cfg.Instances.Join).Methods(http.MethodPost)
		api.HandleFunc("/instances/{instanceID}/timeslots/{timeslotID}/participants", cfg.Instances.Leave).Methods(http.MethodDelete)
	}

	var handler http.Handler = router
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}
