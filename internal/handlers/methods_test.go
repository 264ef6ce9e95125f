package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgerelay/internal/status"
)

func newTestRouter(health HealthCheck) (http.Handler, *Methods) {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reporter := status.NewReporterWithClock(func() time.Time { return clock })

	methods := NewMethods()
	methods.Register(MethodMiddlewareStatus, func(ctx context.Context, payload []byte) (any, error) {
		return reporter.Snapshot(), nil
	})
	return NewRouter(RouterConfig{Methods: methods, Health: health}), methods
}

func TestStatusMethod(t *testing.T) {
	router, _ := newTestRouter(nil)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, "/methods/middlewarestatus", strings.NewReader("{}")))

		require.Equal(t, http.StatusOK, rec.Code, method)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"startTime":"2024-03-01T12:00:00Z","uptimeSeconds":0}`, rec.Body.String())
	}
}

func TestUnknownMethod(t *testing.T) {
	router, _ := newTestRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/methods/reboot", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "reboot")
}

func TestMethodError(t *testing.T) {
	router, methods := newTestRouter(nil)
	methods.Register("fail", func(ctx context.Context, payload []byte) (any, error) {
		return nil, errors.New("sensor offline")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/methods/fail", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "sensor offline")
}

func TestMethodReceivesPayload(t *testing.T) {
	router, methods := newTestRouter(nil)
	var got []byte
	methods.Register("echo", func(ctx context.Context, payload []byte) (any, error) {
		got = payload
		return map[string]int{"len": len(payload)}, nil
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/methods/echo", strings.NewReader(`{"a":1}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"a":1}`, string(got))
	assert.Equal(t, []string{"echo", MethodMiddlewareStatus}, methods.Names())
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	router, _ = newTestRouter(func(ctx context.Context) error { return errors.New("producer closed") })
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "producer closed")
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownPath(t *testing.T) {
	router, _ := newTestRouter(nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
