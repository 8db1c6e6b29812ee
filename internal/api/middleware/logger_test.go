package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/storefront-ai/recommender/internal/api/middleware"
)

// captureLog redirects the global logger into a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})
	return &buf
}

func TestLogger_IncludesAnnotations(t *testing.T) {
	buf := captureLog(t)

	h := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.Annotate(r.Context(), "result_code", "OK")
		middleware.Annotate(r.Context(), "recommendations", "3")
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/recommend?q=secret+query", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line["result_code"] != "OK" || line["recommendations"] != "3" {
		t.Errorf("log line = %v, want annotations", line)
	}
	if line["path"] != "/recommend" {
		t.Errorf("path = %v, want /recommend", line["path"])
	}
	if bytes.Contains(buf.Bytes(), []byte("secret")) {
		t.Errorf("query string leaked into log: %s", buf.String())
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		path      string
		status    int
		wantLevel string // "" means not written at info level
	}{
		{"/recommend", http.StatusOK, "info"},
		{"/recommend", http.StatusBadRequest, "warn"},
		{"/recommend", http.StatusInternalServerError, "error"},
		{"/health", http.StatusOK, ""},
		{"/health", http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		buf := captureLog(t)
		h := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

		if tt.wantLevel == "" {
			if buf.Len() != 0 {
				t.Errorf("%s %d: logged %s, want nothing at info", tt.path, tt.status, buf.String())
			}
			continue
		}
		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("%s %d: %v", tt.path, tt.status, err)
		}
		if line["level"] != tt.wantLevel {
			t.Errorf("%s %d: level = %v, want %s", tt.path, tt.status, line["level"], tt.wantLevel)
		}
	}
}

func TestAnnotate_WithoutMiddlewareIsNoop(t *testing.T) {
	// Must not panic.
	middleware.Annotate(context.Background(), "result_code", "OK")
}

func TestTelemetry_SharesOutcomeWithLogger(t *testing.T) {
	buf := captureLog(t)

	h := middleware.Logger(middleware.Telemetry(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.Annotate(r.Context(), "product_request_id", "req-1")
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/recommend", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line["product_request_id"] != "req-1" {
		t.Errorf("product_request_id = %v, want req-1", line["product_request_id"])
	}
}
