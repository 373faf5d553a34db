package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curio-sh/curio/pkg/auth"
	"github.com/curio-sh/curio/pkg/rbac"
)

// fakeVerifier accepts exactly one token string
type fakeVerifier struct {
	accept string
	claims *auth.Claims
}

func (v *fakeVerifier) VerifyServiceToken(raw string) (*auth.Claims, error) {
	if raw == v.accept {
		return v.claims, nil
	}
	return nil, auth.ErrInvalidToken
}

func callerCapture(t *testing.T) (http.Handler, *rbac.Caller) {
	t.Helper()

	var captured rbac.Caller
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetCaller(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return handler, &captured
}

func TestAuthMiddlewareAnonymousPassThrough(t *testing.T) {
	next, captured := callerCapture(t)
	mw := NewAuthMiddleware(&fakeVerifier{}, nil)

	req := httptest.NewRequest("GET", "/artifacts?sharing_key=abc", nil)
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, captured.URN)
	assert.Equal(t, "abc", captured.SharingKey)
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	next, captured := callerCapture(t)
	mw := NewAuthMiddleware(&fakeVerifier{
		accept: "good-token",
		claims: &auth.Claims{
			Subject: "urn:curio:user:test:alice",
			Scopes:  auth.ScopeSet{auth.ScopeArtifactsRead},
		},
	}, nil)

	req := httptest.NewRequest("GET", "/artifacts", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "urn:curio:user:test:alice", captured.URN)
	assert.True(t, captured.Scopes.Contains(auth.ScopeArtifactsRead))
}

func TestAuthMiddlewareRejectsBadTokens(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "invalid token", header: "Bearer bad-token"},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "no scheme", header: "just-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
			})
			mw := NewAuthMiddleware(&fakeVerifier{accept: "good-token"}, nil)

			req := httptest.NewRequest("GET", "/artifacts", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			mw.Handler(next).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, reached, "handler must not run on auth failure")
		})
	}
}

func TestGetCallerWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	caller := GetCaller(req.Context())
	assert.Empty(t, caller.URN)
	assert.Empty(t, caller.Scopes)
}
