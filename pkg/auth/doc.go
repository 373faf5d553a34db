// Package auth implements the token service: verification of external
// identity-provider tokens and issuance of short-lived, scope-narrowed
// service tokens.
//
// External tokens are verified against the identity provider's published
// keys (OIDC discovery). A verified principal can then exchange its external
// credential for a service token carrying a subset of its authorized scopes;
// requesting scopes beyond the authorized set fails with ErrScopeEscalation.
//
// Service tokens are stateless HS256 JWS, self-verifying by signature and
// expiry. There is no revocation store; lifetimes are short and signing keys
// rotate with a grace window during which the previous key still verifies.
package auth
