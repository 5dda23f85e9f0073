package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	dir    *memoryDirectory
	store  *memoryPermStore
	server *httptest.Server
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	dir := newMemoryDirectory()
	store := newMemoryPermStore()
	resolver := newTestResolver(dir, store, false)
	mutator := newTestMutator(store, nil)
	service := NewService(store, store, nil, nil, nil)

	r := chi.NewRouter()
	NewHandler(nil, resolver, mutator, service).MountRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return &handlerFixture{dir: dir, store: store, server: server}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHandlerResolvePermissions(t *testing.T) {
	f := newHandlerFixture(t)
	userID := seedUser(f.dir, "viewer")
	f.store.templates["viewer"] = RoleTemplate{
		Role:        "viewer",
		Permissions: PermissionSet{Menu: []string{"menu.reports"}},
	}

	resp := f.do(t, http.MethodGet, "/users/"+userID.String()+"/permissions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var set PermissionSet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&set))
	require.Equal(t, []string{"menu.reports"}, set.Menu)
}

func TestHandlerResolveUnknownUser(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodGet, "/users/"+uuid.NewString()+"/permissions", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestHandlerResolveBadUUID(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodGet, "/users/not-a-uuid/permissions", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerAssignAndAccess(t *testing.T) {
	f := newHandlerFixture(t)
	userID := seedUser(f.dir, "operator")
	projectID := uuid.New()
	base := fmt.Sprintf("/projects/%s/grants/%s", projectID, userID)
	accessPath := fmt.Sprintf("/projects/%s/access/%s", projectID, userID)

	resp := f.do(t, http.MethodPut, base, map[string]string{"role": "viewer"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Len(t, f.store.grants, 1)

	resp = f.do(t, http.MethodGet, accessPath, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var access map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&access))
	require.True(t, access["has_access"])

	resp = f.do(t, http.MethodPost, base+"/restrict", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, accessPath, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&access))
	require.False(t, access["has_access"])

	resp = f.do(t, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, f.store.grants)
}

func TestHandlerAssignRequiresRole(t *testing.T) {
	f := newHandlerFixture(t)
	path := fmt.Sprintf("/projects/%s/grants/%s", uuid.New(), uuid.New())

	resp := f.do(t, http.MethodPut, path, map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerBatchAssignPartialFailure(t *testing.T) {
	f := newHandlerFixture(t)
	userID := uuid.New()
	f.store.failUsers[userID] = errors.New("deadlock detected")

	resp := f.do(t, http.MethodPost, "/users/"+userID.String()+"/grants/batch-assign", map[string]any{
		"project_ids": []string{uuid.NewString(), uuid.NewString()},
		"role":        "operator",
	})
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	var result BatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Failures, 2)
}

func TestHandlerOverrideLifecycle(t *testing.T) {
	f := newHandlerFixture(t)
	userID := seedUser(f.dir, "operator")
	f.store.templates["operator"] = RoleTemplate{
		Role:        "operator",
		Permissions: PermissionSet{Menu: []string{"menu.ops"}},
	}
	path := "/users/" + userID.String() + "/overrides"

	resp := f.do(t, http.MethodPut, path, map[string]any{
		"menu":         []string{"menu.custom"},
		"inherit_role": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/users/"+userID.String()+"/permissions", nil)
	var set PermissionSet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&set))
	require.Equal(t, []string{"menu.custom"}, set.Menu)

	resp = f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/users/"+userID.String()+"/permissions", nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&set))
	require.Equal(t, []string{"menu.ops"}, set.Menu)
}

func TestHandlerTemplates(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPut, "/roles/templates/dispatcher", map[string]any{
		"menu":        []string{"menu.dispatch"},
		"description": "dispatch desk",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/roles/templates", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var templates []RoleTemplate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&templates))
	require.Len(t, templates, 1)
	require.Equal(t, "dispatcher", templates[0].Role)
}

func TestHandlerPermissionStats(t *testing.T) {
	f := newHandlerFixture(t)
	userID := seedUser(f.dir, "viewer")
	f.store.templates["viewer"] = RoleTemplate{
		Role: "viewer",
		Permissions: PermissionSet{
			Menu: []string{"menu.a", "menu.b"},
			Data: []string{"data.a"},
		},
	}

	resp := f.do(t, http.MethodGet, "/users/"+userID.String()+"/permissions/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.Menu)
	require.Equal(t, 1, stats.Data)
}
