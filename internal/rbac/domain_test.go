package rbac

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tadhub/tadhub/internal/rbac/selector"
)

func TestIsDerivedFrom(t *testing.T) {
	viewer := RoleTemplate{ID: uuid.New(), Name: TemplateViewer}
	other := uuid.New()
	deleted := time.Now()

	cases := []struct {
		name string
		role Role
		want bool
	}{
		{"linked by id", Role{Name: "Read Only", TemplateID: uuid.NullUUID{UUID: viewer.ID, Valid: true}}, true},
		{"legacy name match", Role{Name: TemplateViewer}, true},
		{"linked elsewhere wins over name", Role{Name: TemplateViewer, TemplateID: uuid.NullUUID{UUID: other, Valid: true}}, false},
		{"custom", Role{Name: "Support"}, false},
		{"name is case sensitive", Role{Name: "viewer"}, false},
		{"deleted", Role{Name: TemplateViewer, DeletedAt: &deleted}, false},
		{"deleted linked by id", Role{Name: "Read Only", TemplateID: uuid.NullUUID{UUID: viewer.ID, Valid: true}, DeletedAt: &deleted}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDerivedFrom(tc.role, viewer))
		})
	}
}

func TestScope(t *testing.T) {
	assert.True(t, ScopeTenant.Tenantable())
	assert.True(t, ScopeBoth.Tenantable())
	assert.False(t, ScopePlatform.Tenantable())
	assert.False(t, Scope("").Valid())
}

func catalogFromDefs(defs []PermissionDef) []Permission {
	out := make([]Permission, len(defs))
	for i, d := range defs {
		out[i] = Permission{ID: uuid.New(), Name: d.Name, Module: d.Module, Scope: d.Scope}
	}
	return out
}

func desiredNames(def TemplateDef, catalog []Permission) map[string]bool {
	out := map[string]bool{}
	for _, p := range def.Desired(catalog) {
		out[p.Name] = true
	}
	return out
}

func TestDefaultTemplates(t *testing.T) {
	catalog := catalogFromDefs(DefaultCatalog())
	byName := map[string]TemplateDef{}
	for _, def := range DefaultTemplates() {
		require.NoError(t, def.Validate())
		byName[def.Name] = def
	}
	require.Len(t, byName, 6)

	owner := desiredNames(byName[TemplateOwner], catalog)
	assert.True(t, owner["tenancy.delete"])
	assert.True(t, owner["settings.manage"])
	assert.False(t, owner["platform.tenants.view"])

	admin := desiredNames(byName[TemplateAdmin], catalog)
	assert.True(t, admin["roles.manage"])
	assert.False(t, admin["tenancy.delete"])
	assert.False(t, admin["content.delete"])

	accountant := desiredNames(byName[TemplateAccountant], catalog)
	assert.True(t, accountant["billing.manage"])
	assert.True(t, accountant["analytics.export"])
	assert.False(t, accountant["workers.passport.custody"])

	operations := desiredNames(byName[TemplateOperations], catalog)
	assert.False(t, operations["billing.view"])
	assert.False(t, operations["roles.view"])
	assert.True(t, operations["members.invite"])

	for name := range desiredNames(byName[TemplateViewer], catalog) {
		assert.Regexp(t, `\.view$`, name)
	}
	assert.True(t, byName[TemplateOwner].IsSystem)
	assert.True(t, byName[TemplateAdmin].IsSystem)
	assert.False(t, byName[TemplateViewer].IsSystem)
}

func TestDesiredKeepsCatalogOrder(t *testing.T) {
	catalog := []Permission{
		{Name: "b.view", Module: "b", Scope: ScopeTenant},
		{Name: "a.view", Module: "a", Scope: ScopeBoth},
		{Name: "c.view", Module: "c", Scope: ScopePlatform},
	}
	got := TemplateDef{Name: "V", Selector: selector.BySuffix(".view")}.Desired(catalog)
	require.Len(t, got, 2)
	assert.Equal(t, "b.view", got[0].Name)
	assert.Equal(t, "a.view", got[1].Name)
}

func TestUserPermissionsHas(t *testing.T) {
	up := UserPermissions{Permissions: []string{"workers.view"}}
	assert.True(t, up.Has("workers.view"))
	assert.False(t, up.Has("workers.manage"))
}
