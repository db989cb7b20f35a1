package http

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("test-secret")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signToken(t *testing.T, secret []byte, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	return "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
}

func TestRequireJWT(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header func(t *testing.T) string
	}{
		{
			name:   "missing header",
			header: func(t *testing.T) string { return "" },
		},
		{
			name:   "malformed token",
			header: func(t *testing.T) string { return "Bearer not-a-token" },
		},
		{
			name: "wrong secret",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, []byte("other"), jwt.RegisteredClaims{Subject: "u1"})
			},
		},
		{
			name: "expired",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{
					Subject:   "u1",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
				})
			},
		},
		{
			name: "no subject",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{})
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			handler := RequireJWT(testSecret, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("next handler should not be called when authentication fails")
			}))

			req := httptest.NewRequest(http.MethodGet, "/series/s1", nil)
			if header := tc.header(t); header != "" {
				req.Header.Set("Authorization", header)
			}
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, req)

			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", recorder.Code)
			}
		})
	}

	t.Run("attaches the principal", func(t *testing.T) {
		t.Parallel()

		var got string
		handler := RequireJWT(testSecret, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				t.Fatalf("expected a principal in context")
			}
			got = principal.UserID
			w.WriteHeader(http.StatusNoContent)
		}))

		req := httptest.NewRequest(http.MethodGet, "/series/s1", nil)
		req.Header.Set("Authorization", bearer(t, "user-7"))
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)

		if recorder.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", recorder.Code)
		}
		if got != "user-7" {
			t.Fatalf("expected principal user-7, got %q", got)
		}
	})
}

func TestRequestLogger_AttachesLogger(t *testing.T) {
	t.Parallel()

	handler := RequestLogger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if LoggerFromContext(r.Context()) == nil {
			t.Fatalf("expected a request logger in context")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
}
