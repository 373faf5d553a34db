package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/curio-sh/curio/pkg/auth"
	"github.com/curio-sh/curio/pkg/httputil"
	"github.com/curio-sh/curio/pkg/observability"
	"github.com/curio-sh/curio/pkg/rbac"
)

type contextKey string

// callerKey carries the authenticated caller through the request context
const callerKey contextKey = "caller"

// sharingKeyParam is the query parameter carrying an artifact sharing key
const sharingKeyParam = "sharing_key"

// TokenVerifier validates a service token and returns its claims
type TokenVerifier interface {
	VerifyServiceToken(raw string) (*auth.Claims, error)
}

// AuthMiddleware authenticates requests carrying a bearer service token.
// Requests without a token proceed as anonymous callers: public reads and
// sharing-key reads need no token, and the access evaluator denies
// everything else.
type AuthMiddleware struct {
	verifier TokenVerifier
	metrics  *observability.Metrics
}

// NewAuthMiddleware creates the bearer token middleware
func NewAuthMiddleware(verifier TokenVerifier, metrics *observability.Metrics) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, metrics: metrics}
}

// Handler wraps next with token authentication. A present but invalid or
// expired token is rejected with 401; an absent token yields an anonymous
// caller.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := rbac.Caller{
			SharingKey: httputil.ParseQueryString(r, sharingKeyParam, ""),
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.verifier.VerifyServiceToken(parts[1])
		if err != nil {
			m.observeVerification("error")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}
		m.observeVerification("success")

		caller.URN = claims.Subject
		caller.Scopes = claims.Scopes

		ctx := WithCaller(r.Context(), caller)
		ctx = observability.WithPrincipal(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) observeVerification(status string) {
	if m.metrics != nil {
		m.metrics.TokenVerificationsTotal.WithLabelValues(status).Inc()
	}
}

// WithCaller stores the caller in the context
func WithCaller(ctx context.Context, caller rbac.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// GetCaller returns the caller from the context, anonymous if none was set
func GetCaller(ctx context.Context) rbac.Caller {
	if caller, ok := ctx.Value(callerKey).(rbac.Caller); ok {
		return caller
	}
	return rbac.Caller{}
}
