package api

import (
	"net/http"

	"github.com/curio-sh/curio/pkg/artifacts"
	"github.com/curio-sh/curio/pkg/httputil"
	"github.com/curio-sh/curio/pkg/middleware"
)

// createArtifact handles POST /artifacts
func (s *Server) createArtifact(w http.ResponseWriter, r *http.Request) {
	var input artifacts.CreateInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	caller := middleware.GetCaller(r.Context())
	artifact, err := s.manager.Create(r.Context(), caller, input)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteCreated(w, artifact)
}

// listArtifacts handles GET /artifacts
func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	visible, err := s.manager.List(r.Context(), caller)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"artifacts": visible,
		"count":     len(visible),
	})
}

// getArtifact handles GET /artifacts/{uuid}
func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "uuid")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	caller := middleware.GetCaller(r.Context())
	artifact, err := s.manager.Get(r.Context(), caller, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, artifact)
}

// updateArtifact handles PATCH /artifacts/{uuid}
func (s *Server) updateArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "uuid")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var patch artifacts.MetadataPatch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	caller := middleware.GetCaller(r.Context())
	artifact, err := s.manager.UpdateMetadata(r.Context(), caller, id, patch)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, artifact)
}

// deleteArtifact handles DELETE /artifacts/{uuid}
func (s *Server) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "uuid")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	caller := middleware.GetCaller(r.Context())
	if err := s.manager.Delete(r.Context(), caller, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// transferOwnership handles POST /artifacts/{uuid}/owner
func (s *Server) transferOwnership(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "uuid")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var req struct {
		NewOwner string `json:"new_owner"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.NewOwner, "new_owner") {
		return
	}

	caller := middleware.GetCaller(r.Context())
	if err := s.manager.TransferOwnership(r.Context(), caller, id, req.NewOwner); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}
