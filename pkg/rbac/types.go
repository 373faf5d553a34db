package rbac

import "github.com/curio-sh/curio/pkg/auth"

// Role is the level of access a grant confers on an artifact.
// Ordering: owner > collaborator > viewer.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleCollaborator Role = "collaborator"
	RoleViewer       Role = "viewer"
)

// rank orders roles for sufficiency comparison
func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleCollaborator:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Covers reports whether r is at least as privileged as other
func (r Role) Covers(other Role) bool {
	return r.rank() >= other.rank()
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r.rank() > 0
}

// Operation classifies what the caller is trying to do to an artifact
type Operation string

const (
	// OpRead covers fetching artifact metadata, version listings, and
	// version content
	OpRead Operation = "read"
	// OpWrite covers metadata updates and version creation
	OpWrite Operation = "write"
	// OpAdmin covers grant management, ownership transfer, and deletion
	OpAdmin Operation = "admin"
)

// requiredRole maps an operation class to the minimum sufficient role
func (op Operation) requiredRole() Role {
	switch op {
	case OpRead:
		return RoleViewer
	case OpWrite:
		return RoleCollaborator
	default:
		return RoleOwner
	}
}

// requiredScope maps an operation class to the token scope it needs.
// Owner-gated operations run under the write scope; the role requirement is
// what separates them from ordinary writes.
func (op Operation) requiredScope() auth.Scope {
	if op == OpRead {
		return auth.ScopeArtifactsRead
	}
	return auth.ScopeArtifactsWrite
}

// Caller is the authenticated context an authorization decision runs
// against. A caller with an empty URN is anonymous. The sharing key, when
// present, came from the request and is compared against the artifact's.
type Caller struct {
	URN        string
	Scopes     auth.ScopeSet
	SharingKey string
}

// Resource is the evaluator's view of an artifact: just enough to decide
// access without a dependency on the artifact model
type Resource struct {
	OwnerURN   string
	Public     bool
	SharingKey string
	Grants     []Grant
}

// Grant pairs a principal with its role on the resource
type Grant struct {
	PrincipalURN string
	Role         Role
}

// Decision is the outcome of an authorization check. Deny reasons are for
// logs only and must never reach the response body: a denial for a missing
// resource and a denial for an unauthorized one are indistinguishable on
// the wire.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow returns a positive decision
func Allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason}
}

// Deny returns a negative decision
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}
