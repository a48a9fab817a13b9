package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudacm/acm/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUser     = "acm"
	testPassword = "secret"
)

func setupServer(t *testing.T) *Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	s, err := New(&config.Config{
		Listen:  ":0",
		DataDir: t.TempDir(),
		Auth: config.AuthConfig{
			User:         testUser,
			PasswordHash: string(hash),
		},
		Metrics: config.MetricsConfig{Enable: true, Path: "/metrics"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.SetBasicAuth(testUser, testPassword)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestInfoIsPublic(t *testing.T) {
	s := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]interface{}
	decode(t, rec, &info)
	assert.Equal(t, "Access Control Manager", info["name"])
	assert.Contains(t, info, "system")
}

func TestAPIRequiresAuth(t *testing.T) {
	s := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/objects/some-id", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req.SetBasicAuth(testUser, "wrong")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestObjectLifecycle(t *testing.T) {
	s := setupServer(t)

	rec := do(t, s, http.MethodPost, "/permission_sets", permissionSetRequest{
		Name:        "doc-perms",
		Permissions: []string{"read", "write"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/users", subjectRequest{ID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/objects", objectRequest{
		Name:           "doc-1",
		PermissionSets: []string{"doc-perms"},
		ACL:            map[string]interface{}{"read": []interface{}{"u1"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		ID  string `json:"id"`
		ACL []struct {
			Permission string `json:"permission"`
			Subject    string `json:"subject"`
		} `json:"acl"`
	}
	decode(t, rec, &created)
	require.NotEmpty(t, created.ID)
	require.Len(t, created.ACL, 1)
	assert.Equal(t, "u1", created.ACL[0].Subject)

	rec = do(t, s, http.MethodGet, "/objects/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodDelete, "/objects/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/objects/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var errResp errorResponse
	decode(t, rec, &errResp)
	assert.Equal(t, codeObjectNotFound, errResp.Code)
}

func TestCreateObjectRejectsNonListACL(t *testing.T) {
	s := setupServer(t)

	rec := do(t, s, http.MethodPost, "/objects", objectRequest{
		ACL: map[string]interface{}{"read": "u1"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp errorResponse
	decode(t, rec, &errResp)
	assert.Equal(t, codeInvalidRequest, errResp.Code)
	assert.Contains(t, errResp.Description, "must be a list")
}

func TestACLEndpoints(t *testing.T) {
	s := setupServer(t)

	rec := do(t, s, http.MethodPost, "/permission_sets", permissionSetRequest{
		Name:        "doc-perms",
		Permissions: []string{"read", "write"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodPost, "/users", subjectRequest{ID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPost, "/objects", objectRequest{
		PermissionSets: []string{"doc-perms"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		ID string `json:"id"`
	}
	decode(t, rec, &created)

	rec = do(t, s, http.MethodPut, "/objects/"+created.ID+"/acl?id=u1&p=read,write", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		ACL []struct {
			Permission string `json:"permission"`
		} `json:"acl"`
	}
	decode(t, rec, &view)
	assert.Len(t, view.ACL, 2)

	rec = do(t, s, http.MethodDelete, "/objects/"+created.ID+"/acl?id=u1&p=write", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/objects/"+created.ID+"/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report map[string][]string
	decode(t, rec, &report)
	assert.Equal(t, map[string][]string{"u1": {"read"}}, report)
}

func TestGroupMembershipEndpoints(t *testing.T) {
	s := setupServer(t)

	rec := do(t, s, http.MethodPost, "/groups", subjectRequest{ID: "team1"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodPost, "/users", subjectRequest{ID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodPut, "/groups/team1/members/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/groups/team1/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var members map[string][]string
	decode(t, rec, &members)
	assert.Equal(t, []string{"u1"}, members["members"])

	rec = do(t, s, http.MethodDelete, "/groups/team1/members/u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	s := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/objects", bytes.NewBufferString("{not json"))
	req.SetBasicAuth(testUser, testPassword)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
