package api

import (
	"net/http"

	"github.com/curio-sh/curio/pkg/httputil"
	"github.com/curio-sh/curio/pkg/middleware"
	"github.com/curio-sh/curio/pkg/rbac"
)

// listGrants handles GET /artifacts/{uuid}/grants
func (s *Server) listGrants(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "uuid")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	caller := middleware.GetCaller(r.Context())
	grants, err := s.manager.ListGrants(r.Context(), caller, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"grants": grants,
		"count":  len(grants),
	})
}

// setGrant handles PUT /artifacts/{uuid}/grants/{principal}
func (s *Server) setGrant(w http.ResponseWriter, r *http.Request) {
	id, principal, ok := s.grantPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Role rbac.Role `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	caller := middleware.GetCaller(r.Context())
	if err := s.manager.SetGrant(r.Context(), caller, id, principal, req.Role); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// removeGrant handles DELETE /artifacts/{uuid}/grants/{principal}
func (s *Server) removeGrant(w http.ResponseWriter, r *http.Request) {
	id, principal, ok := s.grantPath(w, r)
	if !ok {
		return
	}

	caller := middleware.GetCaller(r.Context())
	if err := s.manager.RemoveGrant(r.Context(), caller, id, principal); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// grantPath parses the {uuid} and {principal} path parameters
func (s *Server) grantPath(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	id, err := httputil.ParsePathString(r, "uuid")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", "", false
	}
	principal, err := httputil.ParsePathString(r, "principal")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", "", false
	}
	return id, principal, true
}
