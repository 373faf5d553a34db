package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/curio-sh/curio/pkg/observability"
)

// requestIDHeader echoes the request identifier back to the client
const requestIDHeader = "X-Request-ID"

// responseRecorder captures the status code and bytes written
type responseRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// LoggingMiddleware assigns each request an identifier, logs its outcome,
// and records HTTP metrics
type LoggingMiddleware struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewLoggingMiddleware creates the request logging middleware
func NewLoggingMiddleware(logger *observability.Logger, metrics *observability.Metrics) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger, metrics: metrics}
}

// Handler wraps next with request ID propagation, structured logging, and
// Prometheus metrics keyed by route template
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx := observability.WithRequestID(r.Context(), requestID)
		ctx = observability.WithLogger(ctx, m.logger)

		recorder := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(recorder, r.WithContext(ctx))
		duration := time.Since(start)

		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}

		path := routeTemplate(r)
		if m.metrics != nil {
			m.metrics.ObserveHTTPRequest(r.Method, path, recorder.status, duration, recorder.size)
		}

		m.logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     recorder.status,
			"duration":   duration.String(),
			"size":       recorder.size,
		}).Info("request completed")
	})
}

// routeTemplate returns the mux route pattern so metrics labels stay
// low-cardinality, falling back to the raw path for unmatched requests
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return r.URL.Path
}
