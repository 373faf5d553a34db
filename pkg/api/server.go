package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/curio-sh/curio/pkg/artifacts"
	"github.com/curio-sh/curio/pkg/auth"
	"github.com/curio-sh/curio/pkg/events"
	"github.com/curio-sh/curio/pkg/middleware"
	"github.com/curio-sh/curio/pkg/observability"
)

// Server is the registry's HTTP API
type Server struct {
	manager  *artifacts.Manager
	recorder events.Recorder
	issuer   *auth.Issuer
	external auth.ExternalVerifier
	router   *mux.Router
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithRecorder wires the usage event recorder
func WithRecorder(recorder events.Recorder) ServerOption {
	return func(s *Server) { s.recorder = recorder }
}

// WithExternalVerifier wires the identity provider used by the token
// endpoint
func WithExternalVerifier(verifier auth.ExternalVerifier) ServerOption {
	return func(s *Server) { s.external = verifier }
}

// WithServerLogger wires structured logging
func WithServerLogger(logger *observability.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithServerMetrics wires Prometheus metrics
func WithServerMetrics(metrics *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = metrics }
}

// NewServer creates the API server with its middleware chain and routes
func NewServer(manager *artifacts.Manager, issuer *auth.Issuer, opts ...ServerOption) *Server {
	s := &Server{
		manager:  manager,
		issuer:   issuer,
		recorder: events.NewMemoryRecorder(),
		router:   mux.NewRouter(),
		logger:   observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Token issuance authenticates with an external credential, not a
	// service token, so it sits outside the auth middleware
	s.router.HandleFunc("/token", s.issueToken).Methods("POST")

	// Artifact routes
	s.router.HandleFunc("/artifacts", s.createArtifact).Methods("POST")
	s.router.HandleFunc("/artifacts", s.listArtifacts).Methods("GET")
	s.router.HandleFunc("/artifacts/{uuid}", s.getArtifact).Methods("GET")
	s.router.HandleFunc("/artifacts/{uuid}", s.updateArtifact).Methods("PATCH")
	s.router.HandleFunc("/artifacts/{uuid}", s.deleteArtifact).Methods("DELETE")

	// Version routes
	s.router.HandleFunc("/artifacts/{uuid}/versions", s.createVersion).Methods("POST")
	s.router.HandleFunc("/artifacts/{uuid}/versions", s.listVersions).Methods("GET")
	s.router.HandleFunc("/artifacts/{uuid}/versions/{seq}", s.getVersion).Methods("GET")
	s.router.HandleFunc("/artifacts/{uuid}/versions/{seq}", s.deleteVersion).Methods("DELETE")
	s.router.HandleFunc("/artifacts/{uuid}/versions/{seq}/content", s.getContent).Methods("GET")

	// Ownership and grants
	s.router.HandleFunc("/artifacts/{uuid}/owner", s.transferOwnership).Methods("POST")
	s.router.HandleFunc("/artifacts/{uuid}/grants", s.listGrants).Methods("GET")
	s.router.HandleFunc("/artifacts/{uuid}/grants/{principal}", s.setGrant).Methods("PUT")
	s.router.HandleFunc("/artifacts/{uuid}/grants/{principal}", s.removeGrant).Methods("DELETE")

	// Usage events
	s.router.HandleFunc("/artifacts/{uuid}/versions/{seq}/events", s.recordEvent).Methods("POST")
	s.router.HandleFunc("/artifacts/{uuid}/versions/{seq}/metrics", s.getEventCounts).Methods("GET")
}

// Handler returns the server wrapped in its middleware chain
func (s *Server) Handler() http.Handler {
	authMW := middleware.NewAuthMiddleware(s.issuer, s.metrics)
	logMW := middleware.NewLoggingMiddleware(s.logger, s.metrics)
	return logMW.Handler(authMW.Handler(s.router))
}

// ServeHTTP implements http.Handler without the middleware chain, for tests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
