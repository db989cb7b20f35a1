package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/club-scheduler/internal/application"
	"github.com/example/club-scheduler/internal/persistence"
	"github.com/example/club-scheduler/internal/recurrence"
)

type stubSeriesService struct {
	createFn   func(ctx context.Context, params application.CreateSeriesParams) (persistence.Series, error)
	updateFn   func(ctx context.Context, params application.UpdateSeriesParams) (persistence.Series, error)
	activateFn func(ctx context.Context, seriesID string) (persistence.Series, error)
	deleteFn   func(ctx context.Context, seriesID string) error
}

func (s stubSeriesService) CreateSeries(ctx context.Context, params application.CreateSeriesParams) (persistence.Series, error) {
	return s.createFn(ctx, params)
}

func (s stubSeriesService) UpdateSeries(ctx context.Context, params application.UpdateSeriesParams) (persistence.Series, error) {
	return s.updateFn(ctx, params)
}

func (s stubSeriesService) ActivateSeries(ctx context.Context, seriesID string) (persistence.Series, error) {
	return s.activateFn(ctx, seriesID)
}

func (s stubSeriesService) DeleteSeries(ctx context.Context, seriesID string) error {
	return s.deleteFn(ctx, seriesID)
}

type stubQueries struct {
	getSeriesFn    func(ctx context.Context, seriesID string) (persistence.Series, error)
	getInstanceFn  func(ctx context.Context, instanceID string) (persistence.Instance, error)
	listFn         func(ctx context.Context, clubID string, from, to *time.Time, page application.Page) ([]persistence.Instance, error)
	atDateFn       func(ctx context.Context, seriesID, localDate string) (persistence.Instance, error)
	statusesFn     func(ctx context.Context, instanceID string) (application.ScheduleStatuses, error)
	deactivationFn func(ctx context.Context, seriesID string) (application.DeactivationStatus, error)
}

func (s stubQueries) GetSeries(ctx context.Context, seriesID string) (persistence.Series, error) {
	return s.getSeriesFn(ctx, seriesID)
}

func (s stubQueries) GetInstance(ctx context.Context, instanceID string) (persistence.Instance, error) {
	return s.getInstanceFn(ctx, instanceID)
}

func (s stubQueries) ListInstancesForClub(ctx context.Context, clubID string, from, to *time.Time, page application.Page) ([]persistence.Instance, error) {
	return s.listFn(ctx, clubID, from, to, page)
}

func (s stubQueries) GetInstanceAtDate(ctx context.Context, seriesID, localDate string) (persistence.Instance, error) {
	return s.atDateFn(ctx, seriesID, localDate)
}

func (s stubQueries) GetScheduleStatuses(ctx context.Context, instanceID string) (application.ScheduleStatuses, error) {
	return s.statusesFn(ctx, instanceID)
}

func (s stubQueries) GetSeriesDeactivationStatus(ctx context.Context, seriesID string) (application.DeactivationStatus, error) {
	return s.deactivationFn(ctx, seriesID)
}

type stubInstanceService struct {
	deleteFn func(ctx context.Context, instanceID string) error
	cancelFn func(ctx context.Context, instanceID string) (persistence.Instance, error)
	joinFn   func(ctx context.Context, params application.TimeslotParams) (application.JoinResult, error)
	leaveFn  func(ctx context.Context, params application.TimeslotParams) (persistence.Instance, error)
}

func (s stubInstanceService) DeleteInstance(ctx context.Context, instanceID string) error {
	return s.deleteFn(ctx, instanceID)
}

func (s stubInstanceService) CancelInstance(ctx context.Context, instanceID string) (persistence.Instance, error) {
	return s.cancelFn(ctx, instanceID)
}

func (s stubInstanceService) JoinTimeslot(ctx context.Context, params application.TimeslotParams) (application.JoinResult, error) {
	return s.joinFn(ctx, params)
}

func (s stubInstanceService) LeaveTimeslot(ctx context.Context, params application.TimeslotParams) (persistence.Instance, error) {
	return s.leaveFn(ctx, params)
}

func newTestRouter(series seriesService, instances instanceService, queries stubQueries) http.Handler {
	logger := discardLogger()
	return NewRouter(RouterConfig{
		Series:     NewSeriesHandler(series, queries, logger),
		Instances:  NewInstanceHandler(instances, queries, logger),
		Auth:       RequireJWT(testSecret, logger),
		Middleware: []func(http.Handler) http.Handler{RequestLogger(logger)},
	})
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", bearer(t, "u1"))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.NewDecoder(recorder.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func sampleSeries() persistence.Series {
	start := time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)
	return persistence.Series{
		ID:         "s1",
		ClubID:     "c1",
		Kind:       persistence.SeriesKindSession,
		Name:       "Morning run",
		Timezone:   "UTC",
		Visibility: persistence.VisibilityMembersOnly,
		State:      persistence.SeriesStateInactive,
		Schedule: recurrence.Schedule{
			Kind:       recurrence.KindWeekly,
			StartTime:  recurrence.MustParseTimeOfDay("07:00"),
			EndTime:    recurrence.MustParseTimeOfDay("08:00"),
			StartDate:  &start,
			EndDate:    &end,
			DaysOfWeek: []time.Weekday{time.Monday, time.Thursday},
			Interval:   1,
		},
		CreatedBy: "u1",
	}
}

func sampleInstance() persistence.Instance {
	return persistence.Instance{
		ID:        "i1",
		SeriesID:  "s1",
		ClubID:    "c1",
		Date:      time.Date(2024, time.May, 6, 0, 0, 0, 0, time.UTC),
		LocalDate: "2024-05-06",
		Name:      "Morning run",
		Timezone:  "UTC",
		StartTime: recurrence.MustParseTimeOfDay("07:00"),
		EndTime:   recurrence.MustParseTimeOfDay("08:00"),
		Status:    persistence.InstanceStatusNotStarted,
	}
}

func TestSeriesHandlers(t *testing.T) {
	t.Parallel()

	t.Run("creates a series for the authenticated user", func(t *testing.T) {
		t.Parallel()

		var captured application.CreateSeriesParams
		service := stubSeriesService{
			createFn: func(ctx context.Context, params application.CreateSeriesParams) (persistence.Series, error) {
				captured = params
				return sampleSeries(), nil
			},
		}
		router := newTestRouter(service, stubInstanceService{}, stubQueries{})

		body := `{"club_id":"c1","kind":"session","name":"Morning run","timezone":"UTC","visibility":"members_only",
			"schedule":{"recurrence":"weekly","start_time":"07:00","end_time":"08:00","start_date":"2024-05-02","end_date":"2024-06-30","days_of_week":[1,4]},
			"timeslots":[{"name":"Main","capacity_model":"duration","duration_minutes":60,"fee_type":"split","max_participants":10}],
			"activate":true}`
		recorder := serve(t, router, http.MethodPost, "/series", body)

		if recorder.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", recorder.Code, recorder.Body.String())
		}
		if captured.Principal.UserID != "u1" {
			t.Fatalf("expected principal u1, got %q", captured.Principal.UserID)
		}
		if captured.Input.Schedule.Interval != 1 {
			t.Fatalf("expected interval to default to 1, got %d", captured.Input.Schedule.Interval)
		}
		if !captured.Input.Activate || len(captured.Input.Timeslots) != 1 || captured.Input.Timeslots[0].DurationMinutes != 60 {
			t.Fatalf("unexpected input %+v", captured.Input)
		}

		var dto seriesDTO
		decodeBody(t, recorder, &dto)
		if dto.ID != "s1" || dto.Schedule.StartDate != "2024-05-02" || dto.Schedule.EndDate != "2024-06-30" {
			t.Fatalf("unexpected response %+v", dto)
		}
		if dto.Schedule.StartTime != "07:00" || len(dto.Schedule.DaysOfWeek) != 2 || dto.Schedule.DaysOfWeek[1] != 4 {
			t.Fatalf("unexpected schedule %+v", dto.Schedule)
		}
	})

	t.Run("maps validation errors to 422", func(t *testing.T) {
		t.Parallel()

		service := stubSeriesService{
			createFn: func(ctx context.Context, params application.CreateSeriesParams) (persistence.Series, error) {
				return persistence.Series{}, &application.ValidationError{
					Kind:   application.ValidationKindCapacity,
					Field:  "timeslots[0].fee",
					Code:   "required",
					Reason: "fee is required for fixed fee timeslots",
				}
			},
		}
		router := newTestRouter(service, stubInstanceService{}, stubQueries{})

		recorder := serve(t, router, http.MethodPost, "/series", `{"club_id":"c1"}`)
		if recorder.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d", recorder.Code)
		}
		var resp errorResponse
		decodeBody(t, recorder, &resp)
		if resp.ErrorCode != "VALIDATION_CAPACITY" || resp.Code != "required" {
			t.Fatalf("unexpected error response %+v", resp)
		}
		if resp.Errors["timeslots[0].fee"] == "" {
			t.Fatalf("expected field error for timeslots[0].fee, got %v", resp.Errors)
		}
	})

	t.Run("rejects malformed bodies", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(stubSeriesService{}, stubInstanceService{}, stubQueries{})
		recorder := serve(t, router, http.MethodPost, "/series", `{`)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", recorder.Code)
		}
	})

	t.Run("passes partial updates through", func(t *testing.T) {
		t.Parallel()

		var captured application.UpdateSeriesParams
		service := stubSeriesService{
			updateFn: func(ctx context.Context, params application.UpdateSeriesParams) (persistence.Series, error) {
				captured = params
				return sampleSeries(), nil
			},
		}
		router := newTestRouter(service, stubInstanceService{}, stubQueries{})

		recorder := serve(t, router, http.MethodPatch, "/series/s1", `{"name":"Evening run","schedule":{"end_date":"2024-07-29"}}`)
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", recorder.Code)
		}
		if captured.SeriesID != "s1" || captured.Input.Name == nil || *captured.Input.Name != "Evening run" {
			t.Fatalf("unexpected update params %+v", captured)
		}
		patch := captured.Input.Schedule
		if patch == nil || patch.EndDate == nil || *patch.EndDate != "2024-07-29" {
			t.Fatalf("expected end date patch, got %+v", patch)
		}
		if patch.StartDate != nil || patch.Interval != nil || captured.Input.Timeslots != nil {
			t.Fatalf("expected untouched fields to stay nil, got %+v", captured.Input)
		}
	})

	t.Run("maps lifecycle errors", func(t *testing.T) {
		t.Parallel()

		service := stubSeriesService{
			activateFn: func(ctx context.Context, seriesID string) (persistence.Series, error) {
				return persistence.Series{}, application.ErrInvalidState
			},
			deleteFn: func(ctx context.Context, seriesID string) error {
				return nil
			},
		}
		queries := stubQueries{
			getSeriesFn: func(ctx context.Context, seriesID string) (persistence.Series, error) {
				return persistence.Series{}, application.ErrNotFound
			},
		}
		router := newTestRouter(service, stubInstanceService{}, queries)

		if recorder := serve(t, router, http.MethodPost, "/series/s1/activate", ""); recorder.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", recorder.Code)
		}
		if recorder := serve(t, router, http.MethodGet, "/series/missing", ""); recorder.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", recorder.Code)
		}
		if recorder := serve(t, router, http.MethodDelete, "/series/s1", ""); recorder.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", recorder.Code)
		}
		if recorder := serve(t, router, http.MethodPut, "/series/s1", "{}"); recorder.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status 405, got %d", recorder.Code)
		}
	})

	t.Run("looks up the instance on a local date", func(t *testing.T) {
		t.Parallel()

		queries := stubQueries{
			atDateFn: func(ctx context.Context, seriesID, localDate string) (persistence.Instance, error) {
				if seriesID != "s1" || localDate != "2024-05-06" {
					t.Fatalf("unexpected lookup %s %s", seriesID, localDate)
				}
				return sampleInstance(), nil
			},
		}
		router := newTestRouter(stubSeriesService{}, stubInstanceService{}, queries)

		recorder := serve(t, router, http.MethodGet, "/series/s1/instances/2024-05-06", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", recorder.Code)
		}
		var dto instanceDTO
		decodeBody(t, recorder, &dto)
		if dto.ID != "i1" || dto.Date != "2024-05-06" || dto.StartTime != "07:00" {
			t.Fatalf("unexpected instance %+v", dto)
		}
		if dto.Timeslots == nil {
			t.Fatalf("expected an empty timeslot list")
		}
	})
}

func TestInstanceHandlers(t *testing.T) {
	t.Parallel()

	t.Run("lists club instances with parsed bounds", func(t *testing.T) {
		t.Parallel()

		var gotFrom, gotTo *time.Time
		var gotPage application.Page
		queries := stubQueries{
			listFn: func(ctx context.Context, clubID string, from, to *time.Time, page application.Page) ([]persistence.Instance, error) {
				gotFrom, gotTo, gotPage = from, to, page
				return []persistence.Instance{sampleInstance()}, nil
			},
		}
		router := newTestRouter(stubSeriesService{}, stubInstanceService{}, queries)

		recorder := serve(t, router, http.MethodGet, "/clubs/c1/instances?from=2024-05-13&to=2024-05-20&limit=5&offset=10", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", recorder.Code)
		}
		if gotFrom == nil || !gotFrom.Equal(time.Date(2024, time.May, 13, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected from bound %v", gotFrom)
		}
		if gotTo == nil || !gotTo.Equal(time.Date(2024, time.May, 20, 23, 59, 59, 999999999, time.UTC)) {
			t.Fatalf("unexpected to bound %v", gotTo)
		}
		if gotPage.Limit != 5 || gotPage.Offset != 10 {
			t.Fatalf("unexpected page %+v", gotPage)
		}
		var resp instanceListResponse
		decodeBody(t, recorder, &resp)
		if len(resp.Instances) != 1 || resp.Instances[0].ID != "i1" {
			t.Fatalf("unexpected list %+v", resp)
		}
	})

	t.Run("rejects invalid query parameters", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(stubSeriesService{}, stubInstanceService{}, stubQueries{})
		for _, target := range []string{
			"/clubs/c1/instances?from=yesterday",
			"/clubs/c1/instances?limit=-1",
			"/clubs/c1/instances?offset=x",
		} {
			if recorder := serve(t, router, http.MethodGet, target, ""); recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400 for %s, got %d", target, recorder.Code)
			}
		}
	})

	t.Run("joins as the authenticated user", func(t *testing.T) {
		t.Parallel()

		var captured application.TimeslotParams
		service := stubInstanceService{
			joinFn: func(ctx context.Context, params application.TimeslotParams) (application.JoinResult, error) {
				captured = params
				return application.JoinResult{Instance: sampleInstance(), TimeslotID: params.TimeslotID, Waitlisted: true}, nil
			},
		}
		router := newTestRouter(stubSeriesService{}, service, stubQueries{})

		recorder := serve(t, router, http.MethodPost, "/instances/i1/timeslots/t1/participants", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", recorder.Code)
		}
		if captured.Principal.UserID != "u1" || captured.InstanceID != "i1" || captured.TimeslotID != "t1" {
			t.Fatalf("unexpected params %+v", captured)
		}
		var resp joinResponse
		decodeBody(t, recorder, &resp)
		if !resp.Waitlisted || resp.TimeslotID != "t1" {
			t.Fatalf("unexpected join response %+v", resp)
		}
	})

	t.Run("maps participation conflicts to 409", func(t *testing.T) {
		t.Parallel()

		service := stubInstanceService{
			joinFn: func(ctx context.Context, params application.TimeslotParams) (application.JoinResult, error) {
				return application.JoinResult{}, application.ErrTimeslotFull
			},
			leaveFn: func(ctx context.Context, params application.TimeslotParams) (persistence.Instance, error) {
				return persistence.Instance{}, application.ErrNotJoined
			},
		}
		router := newTestRouter(stubSeriesService{}, service, stubQueries{})

		recorder := serve(t, router, http.MethodPost, "/instances/i1/timeslots/t1/participants", "")
		if recorder.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", recorder.Code)
		}
		var resp errorResponse
		decodeBody(t, recorder, &resp)
		if resp.ErrorCode != "TIMESLOT_FULL" {
			t.Fatalf("expected TIMESLOT_FULL, got %q", resp.ErrorCode)
		}

		if recorder := serve(t, router, http.MethodDelete, "/instances/i1/timeslots/t1/participants", ""); recorder.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", recorder.Code)
		}
	})

	t.Run("cancels and reports transition jobs", func(t *testing.T) {
		t.Parallel()

		startID := "job-1"
		canceled := persistence.JobStatusCanceled
		service := stubInstanceService{
			cancelFn: func(ctx context.Context, instanceID string) (persistence.Instance, error) {
				instance := sampleInstance()
				instance.Status = persistence.InstanceStatusCancelled
				return instance, nil
			},
		}
		queries := stubQueries{
			statusesFn: func(ctx context.Context, instanceID string) (application.ScheduleStatuses, error) {
				return application.ScheduleStatuses{InstanceID: instanceID, StartJobID: &startID, StartStatus: &canceled}, nil
			},
		}
		router := newTestRouter(stubSeriesService{}, service, queries)

		recorder := serve(t, router, http.MethodPost, "/instances/i1/cancel", "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", recorder.Code)
		}
		var dto instanceDTO
		decodeBody(t, recorder, &dto)
		if dto.Status != persistence.InstanceStatusCancelled {
			t.Fatalf("expected cancelled, got %s", dto.Status)
		}

		recorder = serve(t, router, http.MethodGet, "/instances/i1/schedule", "")
		var statuses scheduleStatusesDTO
		decodeBody(t, recorder, &statuses)
		if statuses.StartStatus == nil || *statuses.StartStatus != persistence.JobStatusCanceled || statuses.EndJobID != nil {
			t.Fatalf("unexpected statuses %+v", statuses)
		}
	})
}

func TestRouter_HealthWithoutToken(t *testing.T) {
	t.Parallel()

	router := newTestRouter(stubSeriesService{}, stubInstanceService{}, stubQueries{})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/series/s1", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", recorder.Code)
	}
}
