package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Principal is an authenticated identity performing operations. The URN is
// the stable identifier recorded on grants and ownership; it is derived from
// the identity provider's issuer and subject.
type Principal struct {
	URN    string   `json:"urn"`
	Issuer string   `json:"issuer"`
	Email  string   `json:"email,omitempty"`
	Name   string   `json:"name,omitempty"`
	Scopes ScopeSet `json:"scopes"`
}

// Scope is a named capability a token may carry
type Scope string

const (
	ScopeArtifactsRead         Scope = "artifacts:read"
	ScopeArtifactsWrite        Scope = "artifacts:write"
	ScopeArtifactsAdmin        Scope = "artifacts:admin"
	ScopeArtifactsWriteMetrics Scope = "artifacts:write_metrics"
)

// allScopes is the set of scopes this service recognizes
var allScopes = map[Scope]bool{
	ScopeArtifactsRead:         true,
	ScopeArtifactsWrite:        true,
	ScopeArtifactsAdmin:        true,
	ScopeArtifactsWriteMetrics: true,
}

// ValidScope reports whether s is a scope this service recognizes
func ValidScope(s Scope) bool {
	return allScopes[s]
}

// ScopeSet is an unordered collection of scopes
type ScopeSet []Scope

// ParseScopes parses a space-separated scope string (the OAuth "scope" claim
// format), dropping unrecognized entries. Used on verified token claims,
// where unknown scopes can only come from a token minted under an older
// scope vocabulary.
func ParseScopes(raw string) ScopeSet {
	var set ScopeSet
	for _, part := range strings.Fields(raw) {
		s := Scope(part)
		if ValidScope(s) && !set.Contains(s) {
			set = append(set, s)
		}
	}
	return set
}

// ParseRequestedScopes parses a scope string from a token request. Unlike
// ParseScopes it rejects unrecognized scopes instead of dropping them, so a
// caller asking for a capability this service does not define hears about it
// rather than receiving a narrower token.
func ParseRequestedScopes(raw string) (ScopeSet, error) {
	var set ScopeSet
	for _, part := range strings.Fields(raw) {
		s := Scope(part)
		if !ValidScope(s) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScope, part)
		}
		if !set.Contains(s) {
			set = append(set, s)
		}
	}
	return set, nil
}

// Contains reports whether the set includes the given scope
func (ss ScopeSet) Contains(scope Scope) bool {
	for _, s := range ss {
		if s == scope {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every scope in the set is present in other
func (ss ScopeSet) SubsetOf(other ScopeSet) bool {
	for _, s := range ss {
		if !other.Contains(s) {
			return false
		}
	}
	return true
}

// Intersect returns the scopes present in both sets
func (ss ScopeSet) Intersect(other ScopeSet) ScopeSet {
	var out ScopeSet
	for _, s := range ss {
		if other.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}

// String renders the set as a space-separated scope claim, sorted for
// deterministic output.
func (ss ScopeSet) String() string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = string(s)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
