package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ExternalVerifier validates tokens issued by an external identity provider
// and maps them to principals. Identity-provider claims identify the
// principal only; artifact-level roles come exclusively from access grants.
type ExternalVerifier interface {
	VerifyExternalToken(ctx context.Context, raw string) (*Principal, error)
}

// DefaultPrincipalScopes are the scopes every authenticated principal may
// request. The admin scope is reserved for configured subjects.
var DefaultPrincipalScopes = ScopeSet{
	ScopeArtifactsRead,
	ScopeArtifactsWrite,
	ScopeArtifactsWriteMetrics,
}

// PrincipalURN derives the stable principal identifier from a provider name
// and subject
func PrincipalURN(provider, subject string) string {
	return fmt.Sprintf("urn:curio:user:%s:%s", provider, subject)
}

// OIDCConfig configures external token verification
type OIDCConfig struct {
	// IssuerURL is the identity provider's issuer, used for discovery of
	// its published keys
	IssuerURL string
	// ClientID is the audience expected on external tokens
	ClientID string
	// ProviderName is the short name embedded in principal URNs
	ProviderName string
	// AdminSubjects lists provider subjects granted the admin scope
	AdminSubjects []string
	// FetchUserInfo enables a userinfo round trip when the token lacks
	// profile claims
	FetchUserInfo bool
}

// OIDCVerifier verifies external tokens against an OIDC provider's published
// keys
type OIDCVerifier struct {
	config   OIDCConfig
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	admins   map[string]bool
}

// NewOIDCVerifier discovers the identity provider and prepares a verifier
// for its tokens
func NewOIDCVerifier(ctx context.Context, config OIDCConfig) (*OIDCVerifier, error) {
	if config.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if config.ProviderName == "" {
		config.ProviderName = "oidc"
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	admins := make(map[string]bool, len(config.AdminSubjects))
	for _, sub := range config.AdminSubjects {
		admins[sub] = true
	}

	return &OIDCVerifier{
		config:   config,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: config.ClientID}),
		admins:   admins,
	}, nil
}

// VerifyExternalToken verifies signature and expiry against the provider's
// published keys and extracts the principal. Verification failures are
// terminal for the request.
func (v *OIDCVerifier) VerifyExternalToken(ctx context.Context, raw string) (*Principal, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidToken, err)
	}

	if claims.Email == "" && v.config.FetchUserInfo {
		if info, err := v.fetchUserInfo(ctx, raw); err == nil {
			claims.Email = info.Email
		}
	}

	scopes := append(ScopeSet{}, DefaultPrincipalScopes...)
	if v.admins[idToken.Subject] {
		scopes = append(scopes, ScopeArtifactsAdmin)
	}

	return &Principal{
		URN:    PrincipalURN(v.config.ProviderName, idToken.Subject),
		Issuer: idToken.Issuer,
		Email:  claims.Email,
		Name:   claims.Name,
		Scopes: scopes,
	}, nil
}

// fetchUserInfo asks the provider's userinfo endpoint for profile claims
func (v *OIDCVerifier) fetchUserInfo(ctx context.Context, raw string) (*oidc.UserInfo, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: raw})
	return v.provider.UserInfo(ctx, source)
}
