package rbac

import (
	"context"
	"crypto/subtle"

	"github.com/curio-sh/curio/pkg/auth"
)

// Evaluator decides whether a caller may perform an operation on a
// resource. Checks are synchronous and side-effect-free; they are safe to
// cancel or repeat.
type Evaluator struct{}

// NewEvaluator creates an access control evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Authorize applies the decision table, highest precedence first:
//
//  1. public resource and read operation: allow
//  2. matching sharing key and read operation: allow
//  3. caller holds the artifacts:admin scope: allow
//  4. explicit grant with a sufficient role, and a token scope covering the
//     operation: allow
//  5. otherwise: deny
//
// Scopes bound what the token may do; grants bound what the principal may
// do. Both must cover the operation. Deny reasons are diagnostic only and
// must never be surfaced to the caller.
func (e *Evaluator) Authorize(ctx context.Context, caller Caller, resource Resource, op Operation) Decision {
	if op == OpRead {
		if resource.Public {
			return Allow("public read")
		}
		if caller.SharingKey != "" && resource.SharingKey != "" &&
			subtle.ConstantTimeCompare([]byte(caller.SharingKey), []byte(resource.SharingKey)) == 1 {
			return Allow("sharing key")
		}
	}

	if caller.URN == "" {
		return Deny("anonymous caller")
	}

	if caller.Scopes.Contains(auth.ScopeArtifactsAdmin) {
		return Allow("admin scope")
	}

	if !caller.Scopes.Contains(op.requiredScope()) {
		return Deny("token scope insufficient")
	}

	required := op.requiredRole()
	for _, grant := range resource.Grants {
		if grant.PrincipalURN != caller.URN {
			continue
		}
		if grant.Role.Covers(required) {
			return Allow("granted role " + string(grant.Role))
		}
	}

	return Deny("no sufficient grant")
}
