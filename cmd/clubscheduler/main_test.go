package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/example/club-scheduler/internal/config"
)

func TestNewApp_ServesAuthenticatedRoutes(t *testing.T) {
	cfg := config.Config{
		HTTPPort:             8080,
		SQLiteDSN:            ":memory:",
		JWTSecret:            "secret",
		MaxGenerationDays:    14,
		MaxStartDaysAhead:    365,
		MaxTotalParticipants: 500,
		JobPollInterval:      time.Second,
		JobMaxAttempts:       1,
	}
	now := func() time.Time { return time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC) }

	app, err := newApp(context.Background(), cfg, slog.New(slog.DiscardHandler), now)
	if err != nil {
		t.Fatalf("newApp returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := app.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	})

	recorder := httptest.NewRecorder()
	app.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	app.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/series/missing", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without a token, got %d", recorder.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	body := `{"club_id":"no-such-club","kind":"session","name":"Run","timezone":"UTC","visibility":"members_only",
		"schedule":{"recurrence":"weekly","start_time":"07:00","end_time":"08:00","start_date":"2024-05-02","end_date":"2024-06-30","days_of_week":[1]},
		"timeslots":[{"name":"Main","capacity_model":"duration","duration_minutes":60,"fee_type":"split","max_participants":10}]}`
	req := httptest.NewRequest(http.MethodPost, "/series", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	recorder = httptest.NewRecorder()
	app.handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for an unknown club, got %d: %s", recorder.Code, recorder.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/series/missing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	recorder = httptest.NewRecorder()
	app.handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", recorder.Code)
	}
}
