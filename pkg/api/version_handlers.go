package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/curio-sh/curio/pkg/artifacts"
	"github.com/curio-sh/curio/pkg/httputil"
	"github.com/curio-sh/curio/pkg/middleware"
)

// maxContentBytes bounds a single version upload
const maxContentBytes = 512 << 20

// createVersion handles POST /artifacts/{uuid}/versions. The request body
// is the raw version content; the server hashes it, stores it, and assigns
// the next sequence number.
func (s *Server) createVersion(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "uuid")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxContentBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read content body")
		return
	}

	caller := middleware.GetCaller(r.Context())
	version, err := s.manager.CreateVersion(r.Context(), caller, id, content)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteCreated(w, version)
}

// listVersions handles GET /artifacts/{uuid}/versions
func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathString(r, "uuid")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	caller := middleware.GetCaller(r.Context())
	versions, err := s.manager.ListVersions(r.Context(), caller, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"versions": versions,
		"count":    len(versions),
	})
}

// getVersion handles GET /artifacts/{uuid}/versions/{seq}. The path segment
// may be a sequence number or a day slug.
func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := s.lookupVersion(w, r)
	if !ok {
		return
	}

	httputil.WriteSuccess(w, version)
}

// deleteVersion handles DELETE /artifacts/{uuid}/versions/{seq}
func (s *Server) deleteVersion(w http.ResponseWriter, r *http.Request) {
	id, seq, ok := s.versionPath(w, r)
	if !ok {
		return
	}

	caller := middleware.GetCaller(r.Context())
	if err := s.manager.DeleteVersion(r.Context(), caller, id, seq); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// getContent handles GET /artifacts/{uuid}/versions/{seq}/content. The
// bytes have been verified against the version's content hash before they
// reach the response. The version may be addressed by sequence number or
// day slug.
func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	resolved, ok := s.lookupVersion(w, r)
	if !ok {
		return
	}

	caller := middleware.GetCaller(r.Context())
	data, version, err := s.manager.GetContent(r.Context(), caller, resolved.ArtifactUUID, resolved.Seq)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("X-Content-Hash", version.ContentHash)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// versionPath parses the {uuid} and {seq} path parameters
func (s *Server) versionPath(w http.ResponseWriter, r *http.Request) (string, uint64, bool) {
	id, err := httputil.ParsePathString(r, "uuid")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", 0, false
	}
	seq, err := httputil.ParsePathUint(r, "seq")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", 0, false
	}
	return id, seq, true
}

// lookupVersion resolves the {seq} path segment as a sequence number or, if
// it does not parse as one, as a day slug
func (s *Server) lookupVersion(w http.ResponseWriter, r *http.Request) (*artifacts.Version, bool) {
	id, err := httputil.ParsePathString(r, "uuid")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil, false
	}
	ref, err := httputil.ParsePathString(r, "seq")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil, false
	}

	caller := middleware.GetCaller(r.Context())

	var version *artifacts.Version
	if seq, perr := strconv.ParseUint(ref, 10, 64); perr == nil {
		version, err = s.manager.GetVersion(r.Context(), caller, id, seq)
	} else {
		version, err = s.manager.ResolveSlug(r.Context(), caller, id, ref)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	return version, true
}
