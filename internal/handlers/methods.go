package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edgerelay/internal/logger"
	"edgerelay/internal/metrics"
	"edgerelay/internal/middleware"
)

// Well-known direct method names.
const (
	MethodMiddlewareStatus = "middlewarestatus"
	MethodSensorStatus     = "bme280status"
)

// Method is a direct method. payload is the request body, possibly empty.
// The returned value is written back as JSON.
type Method func(ctx context.Context, payload []byte) (any, error)

// Methods is a registry of direct methods keyed by name.
type Methods struct {
	mu          sync.RWMutex
	methods     map[string]Method
	maxBodySize int64
}

// NewMethods creates an empty registry.
func NewMethods() *Methods {
	return &Methods{
		methods:     make(map[string]Method),
		maxBodySize: 64 * 1024,
	}
}

// Register adds or replaces the method called name.
func (m *Methods) Register(name string, fn Method) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[name] = fn
}

// Names returns the registered method names, sorted.
func (m *Methods) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.methods))
	for name := range m.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Methods) lookup(name string) (Method, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.methods[name]
	return fn, ok
}

// ServeHTTP invokes the method named by the {name} route variable.
func (m *Methods) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	log := logger.WithRequestID(r.Header.Get(middleware.RequestIDHeader)).With().Str("direct_method", name).Logger()

	fn, ok := m.lookup(name)
	if !ok {
		metrics.MethodCallsTotal.WithLabelValues("unknown", "not_found").Inc()
		writeError(w, http.StatusNotFound, "method not found: "+name)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, m.maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.MethodCallsTotal.WithLabelValues(name, "bad_request").Inc()
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	result, err := fn(r.Context(), payload)
	if err != nil {
		log.Error().Err(err).Msg("direct method failed")
		metrics.MethodCallsTotal.WithLabelValues(name, "error").Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Msg("direct method invoked")
	metrics.MethodCallsTotal.WithLabelValues(name, "ok").Inc()
	writeJSON(w, http.StatusOK, result)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds what the HTTP surface exposes.
type RouterConfig struct {
	Methods *Methods
	Health  HealthCheck
}

// NewRouter builds the HTTP handler: direct methods, health and metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	if cfg.Methods != nil {
		r.Handle("/methods/{name}", cfg.Methods).Methods(http.MethodGet, http.MethodPost)
	}
	r.HandleFunc("/health", healthHandler(cfg.Health)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.Use(middleware.Logging, middleware.Recovery)
	return r
}

func healthHandler(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
