package api

import (
	"errors"
	"net/http"

	"github.com/curio-sh/curio/pkg/artifacts"
	"github.com/curio-sh/curio/pkg/auth"
	"github.com/curio-sh/curio/pkg/events"
	"github.com/curio-sh/curio/pkg/httputil"
	"github.com/curio-sh/curio/pkg/observability"
	"github.com/curio-sh/curio/pkg/storage"
)

// writeDomainError maps domain errors onto the wire contract. Authorization
// denials and missing resources share one byte-identical 404; nothing in
// any error body reveals whether a denied resource exists.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, artifacts.ErrNotFound),
		errors.Is(err, artifacts.ErrForbidden),
		errors.Is(err, storage.ErrObjectMissing):
		httputil.WriteNotFound(w)

	// Creation-time auth failures have no resource to hide; they surface
	// with their real status
	case errors.Is(err, artifacts.ErrUnauthenticated):
		httputil.WriteUnauthorized(w, "authentication required")

	case errors.Is(err, artifacts.ErrInsufficientScope):
		httputil.WriteForbidden(w, "insufficient scope")

	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		httputil.WriteUnauthorized(w, "invalid or expired token")

	case errors.Is(err, auth.ErrScopeEscalation):
		httputil.WriteBadRequest(w, "requested scopes exceed authorization")

	case errors.Is(err, artifacts.ErrInvalidInput),
		errors.Is(err, events.ErrInvalidEvent):
		httputil.WriteBadRequest(w, err.Error())

	case errors.Is(err, artifacts.ErrAlreadyExists):
		httputil.WriteConflict(w, err.Error())

	case errors.Is(err, storage.ErrQuarantined):
		httputil.WriteGone(w, "content failed integrity verification")

	case errors.Is(err, storage.ErrBackendUnavailable):
		httputil.WriteServiceUnavailable(w, "storage backend unavailable")

	default:
		// Includes ErrConflictingSequence: a sequencing collision means a
		// broken serialization invariant, not a client mistake
		observability.FromContext(r.Context()).WithError(err).Error("internal error")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
