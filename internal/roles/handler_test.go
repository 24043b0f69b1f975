package roles

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadhub/tadhub/internal/rbac"
)

type grantSet map[string]bool

func (g grantSet) HasAnyPermission(ctx context.Context, userID, tenantID uuid.UUID, keys ...string) bool {
	for _, k := range keys {
		if g[k] {
			return true
		}
	}
	return false
}

func (g grantSet) HasAllPermissions(ctx context.Context, userID, tenantID uuid.UUID, keys ...string) bool {
	for _, k := range keys {
		if !g[k] {
			return false
		}
	}
	return len(keys) > 0
}

type rolesFixture struct {
	repo   *memoryRolesRepo
	router http.Handler
	tenant uuid.UUID
	user   uuid.UUID
}

func newRolesFixture(t *testing.T, grants grantSet) rolesFixture {
	t.Helper()
	repo := newMemoryRolesRepo("workers.view", "workers.manage")
	svc, _ := newTestService(repo)
	mw := rbac.Middleware{Checker: grants}
	r := chi.NewRouter()
	r.Use(mw.Identify)
	NewHandler(nil, svc, mw).MountRoutes(r)
	return rolesFixture{repo: repo, router: r, tenant: uuid.New(), user: uuid.New()}
}

func (f rolesFixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(rbac.HeaderTenantID, f.tenant.String())
	req.Header.Set(rbac.HeaderUserID, f.user.String())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateAndList(t *testing.T) {
	f := newRolesFixture(t, grantSet{rbac.PermRolesManage: true})

	rec := f.do(http.MethodPost, "/", `{"name":"Support","permissions":["workers.view"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, []string{"workers.view"}, created.Permissions)

	rec = f.do(http.MethodPost, "/", `{"name":"Support"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/", `{"name":"Other","permissions":["nope.view"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Roles []Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Roles, 1)
	assert.Equal(t, "Support", list.Roles[0].Name)
}

func TestHandlerPermissionGates(t *testing.T) {
	f := newRolesFixture(t, grantSet{rbac.PermRolesView: true})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/", `{"name":"X"}`).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodDelete, "/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/users/"+uuid.NewString(), `{"role_id":"`+uuid.NewString()+`"}`).Code)
}

func TestHandlerAssignAndRemove(t *testing.T) {
	f := newRolesFixture(t, grantSet{rbac.PermRolesManage: true, rbac.PermRolesAssign: true, rbac.PermRolesDelete: true})
	role := f.repo.addSystemRole(f.tenant, rbac.TemplateOwner)
	member := uuid.New()

	rec := f.do(http.MethodPost, "/users/"+member.String(), `{"role_id":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/users/"+member.String(), `{"role_id":"`+role.ID.String()+`"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = f.do(http.MethodPost, "/users/"+member.String(), `{"role_id":"`+role.ID.String()+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, "/users/"+member.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), rbac.TemplateOwner)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/"+role.ID.String(), "").Code)

	rec = f.do(http.MethodDelete, "/users/"+member.String()+"/"+role.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodDelete, "/users/"+member.String()+"/"+role.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
