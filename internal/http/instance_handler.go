package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/club-scheduler/internal/application"
	"github.com/example/club-scheduler/internal/persistence"
)

type instanceService interface {
	DeleteInstance(ctx context.Context, instanceID string) error
	CancelInstance(ctx context.Context, instanceID string) (persistence.Instance, error)
	JoinTimeslot(ctx context.Context, params application.TimeslotParams) (application.JoinResult, error)
	LeaveTimeslot(ctx context.Context, params application.TimeslotParams) (persistence.Instance, error)
}

type instanceQueries interface {
	GetInstance(ctx context.Context, instanceID string) (persistence.Instance, error)
	GetScheduleStatuses(ctx context.Context, instanceID string) (application.ScheduleStatuses, error)
	ListInstancesForClub(ctx context.Context, clubID string, from, to *time.Time, page application.Page) ([]persistence.Instance, error)
}

// InstanceHandler serves the instance endpoints.
type InstanceHandler struct {
	service   instanceService
	queries   instanceQueries
	responder responder
	logger    *slog.Logger
}

func NewInstanceHandler(service instanceService, queries instanceQueries, logger *slog.Logger) *InstanceHandler {
	base := defaultLogger(logger)
	return &InstanceHandler{service: service, queries: queries, responder: newResponder(base), logger: base}
}

func (h *InstanceHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "InstanceHandler", operation, attrs...)
}

func (h *InstanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.queries == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	instance, err := h.queries.GetInstance(r.Context(), mux.Vars(r)["instanceID"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toInstanceDTO(instance))
}

// ListForClub lists the instances of a club. from and to accept RFC 3339
// instants or YYYY-MM-DD dates; a bare "to" date covers the whole UTC day.
func (h *InstanceHandler) ListForClub(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.queries == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	clubID := mux.Vars(r)["clubID"]
	query := r.URL.Query()

	from, err := parseBound(query.Get("from"), false)
	if err != nil {
		h.log(r.Context(), "ListForClub", "club_id", clubID, "error_kind", "bad_request").WarnContext(r.Context(), "invalid from parameter", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
		return
	}
	to, err := parseBound(query.Get("to"), true)
	if err != nil {
		h.log(r.Context(), "ListForClub", "club_id", clubID, "error_kind", "bad_request").WarnContext(r.Context(), "invalid to parameter", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
		return
	}
	limit, err := parseCount(query.Get("limit"))
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
		return
	}
	offset, err := parseCount(query.Get("offset"))
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
		return
	}

	instances, err := h.queries.ListInstancesForClub(r.Context(), clubID, from, to, application.Page{Limit: limit, Offset: offset})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]instanceDTO, 0, len(instances))
	for _, instance := range instances {
		dtos = append(dtos, toInstanceDTO(instance))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, instanceListResponse{Instances: dtos})
}

func (h *InstanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	instanceID := mux.Vars(r)["instanceID"]
	logger := h.log(r.Context(), "Delete", "instance_id", instanceID)

	if err := h.service.DeleteInstance(r.Context(), instanceID); err != nil {
		logger.ErrorContext(r.Context(), "instance deletion failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "instance deleted")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *InstanceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	instanceID := mux.Vars(r)["instanceID"]
	logger := h.log(r.Context(), "Cancel", "instance_id", instanceID)

	instance, err := h.service.CancelInstance(r.Context(), instanceID)
	if err != nil {
		logger.ErrorContext(r.Context(), "instance cancellation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "instance cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toInstanceDTO(instance))
}

func (h *InstanceHandler) ScheduleStatuses(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.queries == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	statuses, err := h.queries.GetScheduleStatuses(r.Context(), mux.Vars(r)["instanceID"])
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, scheduleStatusesDTO{
		InstanceID:  statuses.InstanceID,
		StartJobID:  statuses.StartJobID,
		StartStatus: statuses.StartStatus,
		EndJobID:    statuses.EndJobID,
		EndStatus:   statuses.EndStatus,
	})
}

func (h *InstanceHandler) Join(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	params := h.timeslotParams(r)
	logger := h.log(r.Context(), "Join", "principal_id", params.Principal.UserID, "instance_id", params.InstanceID, "timeslot_id", params.TimeslotID)

	result, err := h.service.JoinTimeslot(r.Context(), params)
	if err != nil {
		logger.WarnContext(r.Context(), "join rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "timeslot joined", "waitlisted", result.Waitlisted)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, joinResponse{
		Instance:   toInstanceDTO(result.Instance),
		TimeslotID: result.TimeslotID,
		Waitlisted: result.Waitlisted,
	})
}

func (h *InstanceHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	params := h.timeslotParams(r)
	logger := h.log(r.Context(), "Leave", "principal_id", params.Principal.UserID, "instance_id", params.InstanceID, "timeslot_id", params.TimeslotID)

	instance, err := h.service.LeaveTimeslot(r.Context(), params)
	if err != nil {
		logger.WarnContext(r.Context(), "leave rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "timeslot left")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toInstanceDTO(instance))
}

func (h *InstanceHandler) timeslotParams(r *http.Request) application.TimeslotParams {
	vars := mux.Vars(r)
	principal, _ := PrincipalFromContext(r.Context())
	return application.TimeslotParams{
		Principal:  principal,
		InstanceID: vars["instanceID"],
		TimeslotID: vars["timeslotID"],
	}
}

func parseBound(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		utc := t.UTC()
		return &utc, nil
	}
	day, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

func parseCount(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

type instanceDTO struct {
	ID                string                         `json:"id"`
	SeriesID          string                         `json:"series_id"`
	ClubID            string                         `json:"club_id"`
	Date              string                         `json:"date"`
	Name              string                         `json:"name"`
	Description       string                         `json:"description,omitempty"`
	Location          string                         `json:"location,omitempty"`
	Timezone          string                         `json:"timezone"`
	Visibility        persistence.Visibility         `json:"visibility"`
	StartTime         string                         `json:"start_time"`
	EndTime           string                         `json:"end_time"`
	StartsAt          time.Time                      `json:"starts_at"`
	EndsAt            time.Time                      `json:"ends_at"`
	Status            persistence.InstanceStatus     `json:"status"`
	Timeslots         []persistence.TimeslotSnapshot `json:"timeslots"`
	OnEventStartJobID *string                        `json:"on_event_start_job_id,omitempty"`
	OnEventEndJobID   *string                        `json:"on_event_end_job_id,omitempty"`
	CreatedBy         string                         `json:"created_by"`
	CreatedAt         time.Time                      `json:"created_at"`
}

func toInstanceDTO(instance persistence.Instance) instanceDTO {
	dto := instanceDTO{
		ID:                instance.ID,
		SeriesID:          instance.SeriesID,
		ClubID:            instance.ClubID,
		Date:              instance.LocalDate,
		Name:              instance.Name,
		Description:       instance.Description,
		Location:          instance.Location,
		Timezone:          instance.Timezone,
		Visibility:        instance.Visibility,
		StartTime:         instance.StartTime.String(),
		EndTime:           instance.EndTime.String(),
		StartsAt:          instance.StartsAt,
		EndsAt:            instance.EndsAt,
		Status:            instance.Status,
		Timeslots:         instance.Timeslots,
		OnEventStartJobID: instance.OnEventStartJobID,
		OnEventEndJobID:   instance.OnEventEndJobID,
		CreatedBy:         instance.CreatedBy,
		CreatedAt:         instance.CreatedAt,
	}
	if dto.Timeslots == nil {
		dto.Timeslots = []persistence.TimeslotSnapshot{}
	}
	return dto
}

type instanceListResponse struct {
	Instances []instanceDTO `json:"instances"`
}

type joinResponse struct {
	Instance   instanceDTO `json:"instance"`
	TimeslotID string      `json:"timeslot_id"`
	Waitlisted bool        `json:"waitlisted"`
}

type scheduleStatusesDTO struct {
	InstanceID  string                 `json:"instance_id"`
	StartJobID  *string                `json:"start_job_id,omitempty"`
	StartStatus *persistence.JobStatus `json:"start_status,omitempty"`
	EndJobID    *string                `json:"end_job_id,omitempty"`
	EndStatus   *persistence.JobStatus `json:"end_status,omitempty"`
}
