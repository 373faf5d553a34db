package api

import (
	"net/http"
	"time"

	"github.com/curio-sh/curio/pkg/auth"
	"github.com/curio-sh/curio/pkg/httputil"
)

// tokenRequest exchanges an external identity credential for a service
// token. Scope is a space-separated list; empty means the full authorized
// set.
type tokenRequest struct {
	SubjectToken string `json:"subject_token"`
	Scope        string `json:"scope,omitempty"`
}

// tokenResponse follows the token-exchange response shape
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// issueToken handles POST /token
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if s.external == nil {
		httputil.WriteServiceUnavailable(w, "no identity provider configured")
		return
	}

	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.SubjectToken, "subject_token") {
		return
	}

	principal, err := s.external.VerifyExternalToken(r.Context(), req.SubjectToken)
	if err != nil {
		s.observeIssued("unauthorized")
		httputil.WriteUnauthorized(w, "invalid identity credential")
		return
	}

	requested, err := auth.ParseRequestedScopes(req.Scope)
	if err != nil {
		s.observeIssued("bad_request")
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	token, err := s.issuer.IssueServiceToken(principal, requested)
	if err != nil {
		s.observeIssued("error")
		s.writeDomainError(w, r, err)
		return
	}
	s.observeIssued("success")

	httputil.WriteSuccess(w, tokenResponse{
		AccessToken: token.Raw,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(token.ExpiresAt).Seconds()),
		Scope:       token.Scopes.String(),
	})
}

func (s *Server) observeIssued(status string) {
	if s.metrics != nil {
		s.metrics.TokensIssuedTotal.WithLabelValues(status).Inc()
	}
}
