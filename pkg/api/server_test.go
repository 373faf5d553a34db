package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curio-sh/curio/pkg/artifacts"
	"github.com/curio-sh/curio/pkg/auth"
	"github.com/curio-sh/curio/pkg/rbac"
	"github.com/curio-sh/curio/pkg/storage"
)

// ownerCaller builds a caller for direct manager access in tests
func ownerCaller(urn string) rbac.Caller {
	return rbac.Caller{URN: urn, Scopes: auth.ScopeSet{auth.ScopeArtifactsRead}}
}

const (
	testIssuerURL = "https://idp.test"
	testProvider  = "test"
)

var (
	signingSecret = []byte("0123456789abcdef0123456789abcdef")
	idpSecret     = []byte("fedcba9876543210fedcba9876543210")
)

// testAPI bundles the server under test with its collaborators
type testAPI struct {
	handler http.Handler
	issuer  *auth.Issuer
	manager *artifacts.Manager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	backend, err := storage.NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	manager := artifacts.NewManager(artifacts.NewMemoryStore(), storage.NewObjectStore(backend))

	issuer, err := auth.NewIssuer("curio", "curio", "test-key", signingSecret)
	require.NoError(t, err)

	external, err := auth.NewStaticVerifier(testProvider, testIssuerURL, idpSecret, nil)
	require.NoError(t, err)

	server := NewServer(manager, issuer, WithExternalVerifier(external))
	return &testAPI{
		handler: server.Handler(),
		issuer:  issuer,
		manager: manager,
	}
}

// token mints a service token for a principal with the given scopes
func (a *testAPI) token(t *testing.T, urn string, scopes ...auth.Scope) string {
	t.Helper()

	token, err := a.issuer.IssueServiceToken(&auth.Principal{
		URN:    urn,
		Scopes: auth.ScopeSet(scopes),
	}, nil)
	require.NoError(t, err)
	return token.Raw
}

// do runs one request through the full middleware chain
func (a *testAPI) do(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) createArtifact(t *testing.T, token string) map[string]interface{} {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"title":             "Test Artifact",
		"short_description": "created via the API",
	})
	rec := a.do(t, "POST", "/artifacts", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// externalToken mints a credential the static verifier accepts
func externalToken(t *testing.T, subject string) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: idpSecret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	raw, err := jwt.Signed(signer).Claims(jwt.Claims{
		Issuer:   testIssuerURL,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Expiry:   jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).Serialize()
	require.NoError(t, err)
	return raw
}

func TestAPIRejectsInvalidToken(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, "GET", "/artifacts", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/artifacts", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPICreateAuthFailureStatuses(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(map[string]string{
		"title":             "t",
		"short_description": "d",
	})

	// No credential at all: nothing exists to hide on create
	rec := api.do(t, "POST", "/artifacts", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())

	// Authenticated but read-only
	readOnly := api.token(t, "urn:curio:user:test:carol", auth.ScopeArtifactsRead)
	rec = api.do(t, "POST", "/artifacts", readOnly, body)
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func TestAPIAnonymousListSeesOnlyPublic(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, "urn:curio:user:test:alice",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite)
	api.createArtifact(t, token)

	rec := api.do(t, "GET", "/artifacts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 0, out.Count)
}

func TestAPIMissingAndForbiddenAreByteIdentical(t *testing.T) {
	api := newTestAPI(t)
	owner := api.token(t, "urn:curio:user:test:alice",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite)
	stranger := api.token(t, "urn:curio:user:test:mallory",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite)

	created := api.createArtifact(t, owner)
	id := created["uuid"].(string)

	denied := api.do(t, "GET", "/artifacts/"+id, stranger, nil)
	missing := api.do(t, "GET", "/artifacts/"+artifacts.NewArtifactID(), owner, nil)

	assert.Equal(t, http.StatusNotFound, denied.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, missing.Body.Bytes(), denied.Body.Bytes(),
		"denied and missing must be indistinguishable on the wire")
}

func TestAPIVersionContentFlow(t *testing.T) {
	api := newTestAPI(t)
	owner := api.token(t, "urn:curio:user:test:alice",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite)

	created := api.createArtifact(t, owner)
	id := created["uuid"].(string)

	content := []byte("experiment tarball")
	rec := api.do(t, "POST", "/artifacts/"+id+"/versions", owner, content)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var version struct {
		Seq         uint64 `json:"seq"`
		Slug        string `json:"slug"`
		ContentHash string `json:"content_hash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	assert.Equal(t, uint64(1), version.Seq)
	assert.Equal(t, storage.HashBytes(content), version.ContentHash)

	path := fmt.Sprintf("/artifacts/%s/versions/%d/content", id, version.Seq)
	rec = api.do(t, "GET", path, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, version.ContentHash, rec.Header().Get("X-Content-Hash"))
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}

func TestAPIVersionAddressableBySlug(t *testing.T) {
	api := newTestAPI(t)
	owner := api.token(t, "urn:curio:user:test:alice",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite)

	created := api.createArtifact(t, owner)
	id := created["uuid"].(string)

	content := []byte("slug addressed")
	rec := api.do(t, "POST", "/artifacts/"+id+"/versions", owner, content)
	require.Equal(t, http.StatusCreated, rec.Code)

	var version struct {
		Seq  uint64 `json:"seq"`
		Slug string `json:"slug"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))

	rec = api.do(t, "GET", "/artifacts/"+id+"/versions/"+version.Slug, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Seq uint64 `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, version.Seq, got.Seq)

	rec = api.do(t, "GET", "/artifacts/"+id+"/versions/"+version.Slug+"/content", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())

	rec = api.do(t, "GET", "/artifacts/"+id+"/versions/2038-01-19/content", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIDeletedVersionIsGone(t *testing.T) {
	api := newTestAPI(t)
	owner := api.token(t, "urn:curio:user:test:alice",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite)

	created := api.createArtifact(t, owner)
	id := created["uuid"].(string)

	rec := api.do(t, "POST", "/artifacts/"+id+"/versions", owner, []byte("v1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, "DELETE", "/artifacts/"+id+"/versions/1", owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, "GET", "/artifacts/"+id+"/versions/1", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, "DELETE", "/artifacts/"+id+"/versions/1", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPISharingKeyRead(t *testing.T) {
	api := newTestAPI(t)
	owner := api.token(t, "urn:curio:user:test:alice",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite)

	created := api.createArtifact(t, owner)
	id := created["uuid"].(string)

	// The sharing key never appears in API responses; fetch it from the
	// store the way a share link generator would
	stored, err := api.manager.Get(t.Context(), ownerCaller("urn:curio:user:test:alice"), id)
	require.NoError(t, err)
	require.NotEmpty(t, stored.SharingKey)
	assert.NotContains(t, created, "sharing_key")

	rec := api.do(t, "GET", "/artifacts/"+id+"?sharing_key="+stored.SharingKey, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, "GET", "/artifacts/"+id+"?sharing_key=wrong", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIGrantAndTransferFlow(t *testing.T) {
	api := newTestAPI(t)
	alice := api.token(t, "urn:curio:user:test:alice",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite)
	bob := api.token(t, "urn:curio:user:test:bob",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite)

	created := api.createArtifact(t, alice)
	id := created["uuid"].(string)

	// Bob cannot see the artifact until granted
	rec := api.do(t, "GET", "/artifacts/"+id, bob, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body, _ := json.Marshal(map[string]string{"role": "viewer"})
	rec = api.do(t, "PUT", "/artifacts/"+id+"/grants/urn:curio:user:test:bob", alice, body)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = api.do(t, "GET", "/artifacts/"+id, bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Ownership transfer flips who can administer grants
	body, _ = json.Marshal(map[string]string{"new_owner": "urn:curio:user:test:bob"})
	rec = api.do(t, "POST", "/artifacts/"+id+"/owner", alice, body)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = api.do(t, "GET", "/artifacts/"+id+"/grants", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(t, "GET", "/artifacts/"+id+"/grants", bob, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPITokenExchange(t *testing.T) {
	api := newTestAPI(t)

	// A valid external credential yields a service token
	body, _ := json.Marshal(map[string]string{
		"subject_token": externalToken(t, "alice"),
		"scope":         "artifacts:read",
	})
	rec := api.do(t, "POST", "/token", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		Scope       string `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "artifacts:read", resp.Scope)
	assert.Greater(t, resp.ExpiresIn, int64(0))

	// The issued token authenticates API calls
	rec = api.do(t, "GET", "/artifacts", resp.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPITokenExchangeRejectsEscalation(t *testing.T) {
	api := newTestAPI(t)

	body, _ := json.Marshal(map[string]string{
		"subject_token": externalToken(t, "alice"),
		"scope":         "artifacts:admin",
	})
	rec := api.do(t, "POST", "/token", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestAPITokenExchangeRejectsUnknownScope(t *testing.T) {
	api := newTestAPI(t)

	body, _ := json.Marshal(map[string]string{
		"subject_token": externalToken(t, "alice"),
		"scope":         "artifacts:read bogus:scope",
	})
	rec := api.do(t, "POST", "/token", "", body)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "unknown scope")
}

func TestAPITokenExchangeRejectsBadCredential(t *testing.T) {
	api := newTestAPI(t)

	body, _ := json.Marshal(map[string]string{"subject_token": "garbage"})
	rec := api.do(t, "POST", "/token", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIEventRecordingAndRollup(t *testing.T) {
	api := newTestAPI(t)
	owner := api.token(t, "urn:curio:user:test:alice",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite, auth.ScopeArtifactsWriteMetrics)

	created := api.createArtifact(t, owner)
	id := created["uuid"].(string)
	rec := api.do(t, "POST", "/artifacts/"+id+"/versions", owner, []byte("v1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	eventsPath := "/artifacts/" + id + "/versions/1/events"
	for _, kind := range []string{"launch", "launch", "cite"} {
		body, _ := json.Marshal(map[string]string{"kind": kind})
		rec = api.do(t, "POST", eventsPath, owner, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	body, _ := json.Marshal(map[string]string{"kind": "teleport"})
	rec = api.do(t, "POST", eventsPath, owner, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Without the write_metrics scope, recording looks like a missing route
	plain := api.token(t, "urn:curio:user:test:alice",
		auth.ScopeArtifactsRead, auth.ScopeArtifactsWrite)
	body, _ = json.Marshal(map[string]string{"kind": "launch"})
	rec = api.do(t, "POST", eventsPath, plain, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, "GET", "/artifacts/"+id+"/versions/1/metrics", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var counts struct {
		ByKind map[string]int64 `json:"by_kind"`
		Total  int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, int64(2), counts.ByKind["launch"])
	assert.Equal(t, int64(1), counts.ByKind["cite"])
	assert.Equal(t, int64(3), counts.Total)
}
