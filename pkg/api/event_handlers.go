package api

import (
	"net/http"
	"time"

	"github.com/curio-sh/curio/pkg/auth"
	"github.com/curio-sh/curio/pkg/events"
	"github.com/curio-sh/curio/pkg/httputil"
	"github.com/curio-sh/curio/pkg/middleware"
)

// recordEvent handles POST /artifacts/{uuid}/versions/{seq}/events.
// Recording needs the artifacts:write_metrics scope on top of read access
// to the version.
func (s *Server) recordEvent(w http.ResponseWriter, r *http.Request) {
	id, seq, ok := s.versionPath(w, r)
	if !ok {
		return
	}

	caller := middleware.GetCaller(r.Context())
	if !caller.Scopes.Contains(auth.ScopeArtifactsWriteMetrics) &&
		!caller.Scopes.Contains(auth.ScopeArtifactsAdmin) {
		httputil.WriteNotFound(w)
		return
	}

	if _, err := s.manager.GetVersion(r.Context(), caller, id, seq); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var req struct {
		Kind   events.Kind `json:"kind"`
		Origin string      `json:"origin,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	event, err := events.NewEvent(id, seq, req.Kind, req.Origin, time.Now())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if err := s.recorder.Record(r.Context(), event); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteCreated(w, event)
}

// getEventCounts handles GET /artifacts/{uuid}/versions/{seq}/metrics
func (s *Server) getEventCounts(w http.ResponseWriter, r *http.Request) {
	id, seq, ok := s.versionPath(w, r)
	if !ok {
		return
	}

	caller := middleware.GetCaller(r.Context())
	if _, err := s.manager.GetVersion(r.Context(), caller, id, seq); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	counts, err := s.recorder.Count(r.Context(), id, seq)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, counts)
}
