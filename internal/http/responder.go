package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/club-scheduler/internal/application"
)

var (
	errBadRequestBody  = errors.New("request body is not valid JSON")
	errInvalidQuery    = errors.New("query parameters are invalid")
	errMissingToken    = errors.New("a bearer token is required")
	errInvalidToken    = errors.New("the bearer token is invalid or expired")
	errMissingIdentity = errors.New("the bearer token carries no subject")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_" + strings.ToUpper(string(vErr.Kind)),
			Message:   "the request violates a " + string(vErr.Kind) + " rule",
			Code:      vErr.Code,
			Errors:    vErr.FieldErrors(),
		})
		return
	}

	switch {
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: "the requested resource was not found"})
	case errors.Is(err, application.ErrInvalidState):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "INVALID_STATE", Message: err.Error()})
	case errors.Is(err, application.ErrInstanceNotOpen):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "INSTANCE_NOT_OPEN", Message: "the instance no longer accepts changes"})
	case errors.Is(err, application.ErrTimeslotFull):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "TIMESLOT_FULL", Message: "the timeslot and its waitlist are full"})
	case errors.Is(err, application.ErrAlreadyJoined):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "ALREADY_JOINED", Message: "already joined this timeslot"})
	case errors.Is(err, application.ErrNotJoined):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: "NOT_JOINED", Message: "not joined to this timeslot"})
	case errors.Is(err, application.ErrActivationFailed):
		r.loggerFor(ctx).ErrorContext(ctx, "activation failed", "error", err)
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{ErrorCode: "ACTIVATION_FAILED", Message: "activation did not complete, retry the request"})
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "unexpected service error", "error", err)
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}
