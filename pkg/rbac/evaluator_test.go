package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/curio-sh/curio/pkg/auth"
)

func testResource() Resource {
	return Resource{
		OwnerURN:   "urn:curio:user:dev:owner",
		Public:     false,
		SharingKey: "secret-sharing-key",
		Grants: []Grant{
			{PrincipalURN: "urn:curio:user:dev:owner", Role: RoleOwner},
			{PrincipalURN: "urn:curio:user:dev:collab", Role: RoleCollaborator},
			{PrincipalURN: "urn:curio:user:dev:viewer", Role: RoleViewer},
		},
	}
}

func caller(urn string, scopes ...auth.Scope) Caller {
	return Caller{URN: urn, Scopes: auth.ScopeSet(scopes)}
}

func TestAuthorizeDecisionTable(t *testing.T) {
	evaluator := NewEvaluator()
	resource := testResource()

	tests := []struct {
		name   string
		caller Caller
		public bool
		op     Operation
		allow  bool
	}{
		{
			name:   "anonymous read on private artifact denied",
			caller: Caller{},
			op:     OpRead,
			allow:  false,
		},
		{
			name:   "anonymous read on public artifact allowed",
			caller: Caller{},
			public: true,
			op:     OpRead,
			allow:  true,
		},
		{
			name:   "anonymous write on public artifact denied",
			caller: Caller{},
			public: true,
			op:     OpWrite,
			allow:  false,
		},
		{
			name:   "sharing key grants read on private artifact",
			caller: Caller{SharingKey: "secret-sharing-key"},
			op:     OpRead,
			allow:  true,
		},
		{
			name:   "wrong sharing key denied",
			caller: Caller{SharingKey: "wrong"},
			op:     OpRead,
			allow:  false,
		},
		{
			name:   "sharing key never grants write",
			caller: Caller{SharingKey: "secret-sharing-key"},
			op:     OpWrite,
			allow:  false,
		},
		{
			name:   "viewer grant reads with read scope",
			caller: caller("urn:curio:user:dev:viewer", auth.ScopeArtifactsRead),
			op:     OpRead,
			allow:  true,
		},
		{
			name:   "viewer grant cannot write",
			caller: caller("urn:curio:user:dev:viewer", auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite),
			op:     OpWrite,
			allow:  false,
		},
		{
			name:   "collaborator writes with write scope",
			caller: caller("urn:curio:user:dev:collab", auth.ScopeArtifactsWrite),
			op:     OpWrite,
			allow:  true,
		},
		{
			name:   "collaborator cannot admin",
			caller: caller("urn:curio:user:dev:collab", auth.ScopeArtifactsWrite),
			op:     OpAdmin,
			allow:  false,
		},
		{
			name:   "owner admins with write scope",
			caller: caller("urn:curio:user:dev:owner", auth.ScopeArtifactsWrite),
			op:     OpAdmin,
			allow:  true,
		},
		{
			name:   "owner with only read scope cannot write",
			caller: caller("urn:curio:user:dev:owner", auth.ScopeArtifactsRead),
			op:     OpWrite,
			allow:  false,
		},
		{
			name:   "admin scope bypasses grants",
			caller: caller("urn:curio:user:dev:stranger", auth.ScopeArtifactsAdmin),
			op:     OpAdmin,
			allow:  true,
		},
		{
			name:   "no grant denied",
			caller: caller("urn:curio:user:dev:stranger", auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite),
			op:     OpRead,
			allow:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resource
			r.Public = tt.public
			decision := evaluator.Authorize(context.Background(), tt.caller, r, tt.op)
			assert.Equal(t, tt.allow, decision.Allowed, "reason: %s", decision.Reason)
		})
	}
}

func TestRoleCovers(t *testing.T) {
	assert.True(t, RoleOwner.Covers(RoleViewer))
	assert.True(t, RoleOwner.Covers(RoleCollaborator))
	assert.True(t, RoleCollaborator.Covers(RoleViewer))
	assert.False(t, RoleViewer.Covers(RoleCollaborator))
	assert.False(t, RoleCollaborator.Covers(RoleOwner))
	assert.False(t, Role("bogus").Covers(RoleViewer))
}
