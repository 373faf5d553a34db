package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	// DefaultTokenTTL bounds service token lifetime. Tokens are stateless
	// and self-verifying, so there is no revocation store; short lifetimes
	// are the compensating control.
	DefaultTokenTTL = 15 * time.Minute

	// DefaultRotationGrace is how long a retired signing key keeps
	// verifying tokens after rotation
	DefaultRotationGrace = 30 * time.Minute
)

// Token is an issued service token together with its decoded properties.
// The raw JWS is returned to the caller exactly once.
type Token struct {
	Raw       string    `json:"access_token"`
	Subject   string    `json:"subject"`
	Scopes    ScopeSet  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims is the verified content of a service token
type Claims struct {
	Subject   string
	Scopes    ScopeSet
	Actor     string
	ExpiresAt time.Time
}

// serviceClaims is the custom claim section of a service token
type serviceClaims struct {
	Scope string            `json:"scope,omitempty"`
	Act   map[string]string `json:"act,omitempty"`
}

// signingKey is one entry in the issuer's key ring
type signingKey struct {
	id     string
	secret []byte
	// zero until the key is rotated out; after retireAt+grace the key no
	// longer verifies
	retiredAt time.Time
}

// Issuer mints and verifies service tokens. Tokens are HS256 JWS with a kid
// header naming the signing key, so rotation can keep a grace window where
// both old and new keys verify.
type Issuer struct {
	issuer   string
	audience string
	ttl      time.Duration
	grace    time.Duration

	mu   sync.RWMutex
	keys []signingKey // keys[0] is the current signing key

	now func() time.Time
}

// IssuerOption configures an Issuer
type IssuerOption func(*Issuer)

// WithTokenTTL overrides the default token lifetime
func WithTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) { i.ttl = ttl }
}

// WithRotationGrace overrides the key rotation grace window
func WithRotationGrace(grace time.Duration) IssuerOption {
	return func(i *Issuer) { i.grace = grace }
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates a token issuer with an initial signing key
func NewIssuer(issuer, audience string, keyID string, secret []byte, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(secret))
	}
	i := &Issuer{
		issuer:   issuer,
		audience: audience,
		ttl:      DefaultTokenTTL,
		grace:    DefaultRotationGrace,
		keys:     []signingKey{{id: keyID, secret: secret}},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// GenerateKeyID returns a random hex key identifier
func GenerateKeyID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Rotate installs a new current signing key. The previous key keeps
// verifying tokens for the grace window, then stops.
func (i *Issuer) Rotate(keyID string, secret []byte) error {
	if len(secret) < 32 {
		return fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(secret))
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	retired := make([]signingKey, 0, len(i.keys))
	for _, k := range i.keys {
		if k.retiredAt.IsZero() {
			k.retiredAt = now
		}
		// Drop keys already past their grace window
		if now.Sub(k.retiredAt) < i.grace {
			retired = append(retired, k)
		}
	}
	i.keys = append([]signingKey{{id: keyID, secret: secret}}, retired...)
	return nil
}

// IssueServiceToken mints a scope-narrowed service token for a verified
// principal. Requesting any scope outside the principal's authorized set
// fails with ErrScopeEscalation; an empty request grants the full authorized
// set. Nothing is persisted.
func (i *Issuer) IssueServiceToken(principal *Principal, requested ScopeSet) (*Token, error) {
	granted := principal.Scopes
	if len(requested) > 0 {
		if !requested.SubsetOf(principal.Scopes) {
			return nil, fmt.Errorf("%w: requested %q, authorized %q",
				ErrScopeEscalation, requested.String(), principal.Scopes.String())
		}
		granted = requested.Intersect(principal.Scopes)
	}

	i.mu.RLock()
	key := i.keys[0]
	i.mu.RUnlock()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key.secret},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	now := i.now()
	expiry := now.Add(i.ttl)
	std := jwt.Claims{
		Issuer:   i.issuer,
		Subject:  principal.URN,
		Audience: jwt.Audience{i.audience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(expiry),
	}
	custom := serviceClaims{
		Scope: granted.String(),
	}
	if principal.Issuer != "" {
		custom.Act = map[string]string{"iss": principal.Issuer}
	}

	raw, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{
		Raw:       raw,
		Subject:   principal.URN,
		Scopes:    granted,
		ExpiresAt: expiry,
	}, nil
}

// VerifyServiceToken verifies signature and expiry of a service token and
// returns its claims. All failures are terminal; callers must not retry.
func (i *Issuer) VerifyServiceToken(raw string) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(tok.Headers) == 0 {
		return nil, ErrInvalidToken
	}

	key, ok := i.lookupKey(tok.Headers[0].KeyID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown signing key", ErrInvalidToken)
	}

	var std jwt.Claims
	var custom serviceClaims
	if err := tok.Claims(key.secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	err = std.Validate(jwt.Expected{
		AnyAudience: jwt.Audience{i.audience},
		Issuer:      i.issuer,
		Time:        i.now(),
	})
	if errors.Is(err, jwt.ErrExpired) {
		return nil, ErrExpiredToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject: std.Subject,
		Scopes:  ParseScopes(custom.Scope),
	}
	if std.Expiry != nil {
		claims.ExpiresAt = std.Expiry.Time()
	}
	if custom.Act != nil {
		claims.Actor = custom.Act["iss"]
	}
	return claims, nil
}

// lookupKey finds a signing key by id, honoring the rotation grace window
func (i *Issuer) lookupKey(kid string) (signingKey, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	for _, k := range i.keys {
		if k.id != kid {
			continue
		}
		if !k.retiredAt.IsZero() && i.now().Sub(k.retiredAt) >= i.grace {
			return signingKey{}, false
		}
		return k, true
	}
	return signingKey{}, false
}
