package auth

import "errors"

var (
	// ErrInvalidToken indicates a token that failed parsing or signature
	// verification. Terminal for the request; never retried.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates a structurally valid token past its expiry
	ErrExpiredToken = errors.New("token expired")

	// ErrScopeEscalation indicates a request for scopes beyond what the
	// issuing context was authorized to grant
	ErrScopeEscalation = errors.New("requested scopes exceed authorized scopes")

	// ErrUnknownScope indicates a token request naming a scope this service
	// does not define
	ErrUnknownScope = errors.New("unknown scope")
)
