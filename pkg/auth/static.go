package auth

import (
	"context"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// StaticVerifier verifies external tokens against a shared HS256 secret.
// Intended for development and tests, where running a full identity provider
// is not worth the trouble.
type StaticVerifier struct {
	providerName string
	issuer       string
	secret       []byte
	admins       map[string]bool
	now          func() time.Time
}

// NewStaticVerifier creates a shared-secret external token verifier
func NewStaticVerifier(providerName, issuer string, secret []byte, adminSubjects []string) (*StaticVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("shared secret must be at least 32 bytes, got %d", len(secret))
	}
	admins := make(map[string]bool, len(adminSubjects))
	for _, sub := range adminSubjects {
		admins[sub] = true
	}
	return &StaticVerifier{
		providerName: providerName,
		issuer:       issuer,
		secret:       secret,
		admins:       admins,
		now:          time.Now,
	}, nil
}

// VerifyExternalToken implements ExternalVerifier
func (v *StaticVerifier) VerifyExternalToken(ctx context.Context, raw string) (*Principal, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var std jwt.Claims
	var profile struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := tok.Claims(v.secret, &std, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := std.Validate(jwt.Expected{Issuer: v.issuer, Time: v.now()}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if std.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	scopes := append(ScopeSet{}, DefaultPrincipalScopes...)
	if v.admins[std.Subject] {
		scopes = append(scopes, ScopeArtifactsAdmin)
	}

	return &Principal{
		URN:    PrincipalURN(v.providerName, std.Subject),
		Issuer: v.issuer,
		Email:  profile.Email,
		Name:   profile.Name,
		Scopes: scopes,
	}, nil
}
