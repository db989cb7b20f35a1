package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/club-scheduler/internal/application"
	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/recurrence"
)

type seriesService interface {
	CreateSeries(ctx context.Context, params application.CreateSeriesParams) (persistence.Series, error)
	UpdateSeries(ctx context.Context, params application.UpdateSeriesParams) (persistence.Series, error)
	ActivateSeries(ctx context.Context, seriesID string) (persistence.Series, error)
	DeleteSeries(ctx context.Context, seriesID string) error
}

type seriesQueries interface {
	GetSeries(ctx context.Context, seriesID string) (persistence.Series, error)
	GetSeriesDeactivationStatus(ctx context.Context, seriesID string) (application.DeactivationStatus, error)
	GetInstanceAtDate(ctx context.Context, seriesID, localDate string) (persistence.Instance, error)
}

// SeriesHandler serves the series endpoints.
type SeriesHandler struct {
	service   seriesService
	queries   seriesQueries
	responder responder
	logger    *slog.Logger
}

func NewSeriesHandler(service seriesService, queries seriesQueries, logger *slog.Logger) *SeriesHandler {
	base := defaultLogger(logger)
	return &SeriesHandler{service: service, queries: queries, responder: newResponder(base), logger: base}
}

func (h *SeriesHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SeriesHandler", operation, attrs...)
}

func (h *SeriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req createSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "principal_id", principal.UserID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode series request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Create", "principal_id", principal.UserID, "club_id", req.ClubID)

	series, err := h.service.CreateSeries(r.Context(), application.CreateSeriesParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "series creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("series_id", series.ID).InfoContext(r.Context(), "series created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toSeriesDTO(series))
}

func (h *SeriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.queries == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	series, err := h.queries.GetSeries(r.Context(), mux.Vars(r)["seriesID"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSeriesDTO(series))
}

func (h *SeriesHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	seriesID := mux.Vars(r)["seriesID"]
	principal, _ := PrincipalFromContext(r.Context())

	var req updateSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Update", "principal_id", principal.UserID, "series_id", seriesID, "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode series update", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Update", "principal_id", principal.UserID, "series_id", seriesID)

	series, err := h.service.UpdateSeries(r.Context(), application.UpdateSeriesParams{
		Principal: principal,
		SeriesID:  seriesID,
		Input:     req.toInput(),
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "series update failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "series updated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSeriesDTO(series))
}

func (h *SeriesHandler) Activate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	seriesID := mux.Vars(r)["seriesID"]
	logger := h.log(r.Context(), "Activate", "series_id", seriesID)

	series, err := h.service.ActivateSeries(r.Context(), seriesID)
	if err != nil {
		logger.ErrorContext(r.Context(), "series activation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "series activated")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSeriesDTO(series))
}

func (h *SeriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	seriesID := mux.Vars(r)["seriesID"]
	logger := h.log(r.Context(), "Delete", "series_id", seriesID)

	if err := h.service.DeleteSeries(r.Context(), seriesID); err != nil {
		logger.ErrorContext(r.Context(), "series deletion failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "series deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *SeriesHandler) DeactivationStatus(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.queries == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	status, err := h.queries.GetSeriesDeactivationStatus(r.Context(), mux.Vars(r)["seriesID"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, deactivationDTO{
		SeriesID:          status.SeriesID,
		State:             status.State,
		JobID:             status.JobID,
		JobStatus:         status.JobStatus,
		LastGeneratedDate: status.LastGeneratedDate,
	})
}

func (h *SeriesHandler) InstanceAtDate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.queries == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	vars := mux.Vars(r)
	instance, err := h.queries.GetInstanceAtDate(r.Context(), vars["seriesID"], vars["date"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toInstanceDTO(instance))
}

type scheduleRequest struct {
	Recurrence string `json:"recurrence"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Date       string `json:"date"`
	DaysOfWeek []int  `json:"days_of_week"`
	DayOfMonth int    `json:"day_of_month"`
	Interval   *int   `json:"interval"`
}

func (r scheduleRequest) toInput() application.ScheduleInput {
	interval := 1
	if r.Interval != nil {
		interval = *r.Interval
	}
	return application.ScheduleInput{
		Recurrence: r.Recurrence,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		Date:       r.Date,
		DaysOfWeek: r.DaysOfWeek,
		DayOfMonth: r.DayOfMonth,
		Interval:   interval,
	}
}

type timeslotRequest struct {
	Name                  string   `json:"name"`
	CapacityModel         string   `json:"capacity_model"`
	DurationMinutes       int      `json:"duration_minutes"`
	StartTime             *string  `json:"start_time"`
	EndTime               *string  `json:"end_time"`
	FeeType               string   `json:"fee_type"`
	Fee                   *int64   `json:"fee"`
	MaxParticipants       int      `json:"max_participants"`
	MaxWaitlist           int      `json:"max_waitlist"`
	PermanentParticipants []string `json:"permanent_participants"`
}

func (r timeslotRequest) toInput() application.TimeslotInput {
	return application.TimeslotInput{
		Name:                  r.Name,
		CapacityModel:         r.CapacityModel,
		DurationMinutes:       r.DurationMinutes,
		StartTime:             r.StartTime,
		EndTime:               r.EndTime,
		FeeType:               r.FeeType,
		Fee:                   r.Fee,
		MaxParticipants:       r.MaxParticipants,
		MaxWaitlist:           r.MaxWaitlist,
		PermanentParticipants: r.PermanentParticipants,
	}
}

func toTimeslotInputs(requests []timeslotRequest) []application.TimeslotInput {
	inputs := make([]application.TimeslotInput, 0, len(requests))
	for _, req := range requests {
		inputs = append(inputs, req.toInput())
	}
	return inputs
}

type createSeriesRequest struct {
	ClubID      string            `json:"club_id"`
	Kind        string            `json:"kind"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Location    string            `json:"location"`
	Timezone    string            `json:"timezone"`
	Visibility  string            `json:"visibility"`
	Schedule    scheduleRequest   `json:"schedule"`
	Timeslots   []timeslotRequest `json:"timeslots"`
	Activate    bool              `json:"activate"`
}

func (r createSeriesRequest) toInput() application.CreateSeriesInput {
	return application.CreateSeriesInput{
		ClubID:      r.ClubID,
		Kind:        r.Kind,
		Name:        r.Name,
		Description: r.Description,
		Location:    r.Location,
		Timezone:    r.Timezone,
		Visibility:  r.Visibility,
		Schedule:    r.Schedule.toInput(),
		Timeslots:   toTimeslotInputs(r.Timeslots),
		Activate:    r.Activate,
	}
}

type schedulePatchRequest struct {
	Recurrence *string `json:"recurrence"`
	StartTime  *string `json:"start_time"`
	EndTime    *string `json:"end_time"`
	StartDate  *string `json:"start_date"`
	EndDate    *string `json:"end_date"`
	Date       *string `json:"date"`
	DaysOfWeek *[]int  `json:"days_of_week"`
	DayOfMonth *int    `json:"day_of_month"`
	Interval   *int    `json:"interval"`
}

type updateSeriesRequest struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	Location    *string               `json:"location"`
	Visibility  *string               `json:"visibility"`
	Schedule    *schedulePatchRequest `json:"schedule"`
	Timeslots   *[]timeslotRequest    `json:"timeslots"`
}

func (r updateSeriesRequest) toInput() application.UpdateSeriesInput {
	input := application.UpdateSeriesInput{
		Name:        r.Name,
		Description: r.Description,
		Location:    r.Location,
		Visibility:  r.Visibility,
	}
	if p := r.Schedule; p != nil {
		input.Schedule = &application.SchedulePatch{
			Recurrence: p.Recurrence,
			StartTime:  p.StartTime,
			EndTime:    p.EndTime,
			StartDate:  p.StartDate,
			EndDate:    p.EndDate,
			Date:       p.Date,
			DaysOfWeek: p.DaysOfWeek,
			DayOfMonth: p.DayOfMonth,
			Interval:   p.Interval,
		}
	}
	if r.Timeslots != nil {
		slots := toTimeslotInputs(*r.Timeslots)
		input.Timeslots = &slots
	}
	return input
}

type scheduleDTO struct {
	Recurrence string `json:"recurrence"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
	Date       string `json:"date,omitempty"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
	DayOfMonth int    `json:"day_of_month,omitempty"`
	Interval   int    `json:"interval"`
}

type seriesDTO struct {
	ID                  string                         `json:"id"`
	ClubID              string                         `json:"club_id"`
	Kind                persistence.SeriesKind         `json:"kind"`
	Name                string                         `json:"name"`
	Description         string                         `json:"description,omitempty"`
	Location            string                         `json:"location,omitempty"`
	Timezone            string                         `json:"timezone"`
	Visibility          persistence.Visibility         `json:"visibility"`
	State               persistence.SeriesState        `json:"state"`
	Schedule            scheduleDTO                    `json:"schedule"`
	Timeslots           []persistence.TimeslotTemplate `json:"timeslots"`
	OnSeriesEndJobID    *string                        `json:"on_series_end_job_id,omitempty"`
	NextGenerationJobID *string                        `json:"next_generation_job_id,omitempty"`
	LastGeneratedDate   string                         `json:"last_generated_date,omitempty"`
	CreatedBy           string                         `json:"created_by"`
	CreatedAt           time.Time                      `json:"created_at"`
	UpdatedAt           time.Time                      `json:"updated_at"`
}

func toSeriesDTO(series persistence.Series) seriesDTO {
	loc, err := recurrence.LoadLocation(series.Timezone)
	if err != nil {
		loc = time.UTC
	}
	schedule := series.Schedule
	dto := seriesDTO{
		ID:          series.ID,
		ClubID:      series.ClubID,
		Kind:        series.Kind,
		Name:        series.Name,
		Description: series.Description,
		Location:    series.Location,
		Timezone:    series.Timezone,
		Visibility:  series.Visibility,
		State:       series.State,
		Schedule: scheduleDTO{
			Recurrence: string(schedule.Kind),
			StartTime:  schedule.StartTime.String(),
			EndTime:    schedule.EndTime.String(),
			DayOfMonth: schedule.DayOfMonth,
			Interval:   schedule.Interval,
		},
		Timeslots:           series.Timeslots,
		OnSeriesEndJobID:    series.OnSeriesEndJobID,
		NextGenerationJobID: series.NextGenerationJobID,
		CreatedBy:           series.CreatedBy,
		CreatedAt:           series.CreatedAt,
		UpdatedAt:           series.UpdatedAt,
	}
	if schedule.StartDate != nil {
		dto.Schedule.StartDate = recurrence.LocalDate(loc, *schedule.StartDate)
	}
	if schedule.EndDate != nil {
		dto.Schedule.EndDate = recurrence.LocalDate(loc, *schedule.EndDate)
	}
	if schedule.Date != nil {
		dto.Schedule.Date = recurrence.LocalDate(loc, *schedule.Date)
	}
	for _, day := range schedule.DaysOfWeek {
		dto.Schedule.DaysOfWeek = append(dto.Schedule.DaysOfWeek, int(day))
	}
	if series.LastGeneratedDate != nil {
		dto.LastGeneratedDate = recurrence.LocalDate(loc, *series.LastGeneratedDate)
	}
	if dto.Timeslots == nil {
		dto.Timeslots = []persistence.TimeslotTemplate{}
	}
	return dto
}

type deactivationDTO struct {
	SeriesID          string                  `json:"series_id"`
	State             persistence.SeriesState `json:"state"`
	JobID             *string                 `json:"job_id,omitempty"`
	JobStatus         *persistence.JobStatus  `json:"job_status,omitempty"`
	LastGeneratedDate *time.Time              `json:"last_generated_date,omitempty"`
}
