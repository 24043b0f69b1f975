package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cashierDefs() []DomainRoleDef {
	return []DomainRoleDef{{
		Name:        "cashier",
		Description: "Front desk payments",
		Permissions: []string{"financial.payments.process", "financial.invoices.generate"},
	}}
}

func TestSeedTenantRolesScenarioC(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPermission("financial.payments.process", "financial", ScopeTenant)
	inv := &countingInvalidator{}
	seeder := NewDomainSeeder(repo, nil, inv, nil)
	acme := uuid.New()

	report, err := seeder.SeedTenantRoles(context.Background(), acme, cashierDefs())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RolesCreated)
	assert.Equal(t, 1, report.PermissionsGranted)
	assert.Equal(t, []string{"cashier:financial.invoices.generate"}, report.Unresolved)

	cashier, ok := repo.roleNamed(acme, "cashier")
	require.True(t, ok)
	assert.False(t, cashier.TemplateID.Valid)
	assert.Equal(t, []string{"financial.payments.process"}, repo.rolePermissionNames(cashier.ID))

	repo.addPermission("financial.invoices.generate", "financial", ScopeTenant)
	report, err = seeder.SeedTenantRoles(context.Background(), acme, cashierDefs())
	require.NoError(t, err)
	assert.Zero(t, report.RolesCreated)
	assert.Equal(t, 1, report.PermissionsGranted)
	assert.Empty(t, report.Unresolved)
	assert.Equal(t, []string{"financial.invoices.generate", "financial.payments.process"}, repo.rolePermissionNames(cashier.ID))
	assert.Equal(t, 2, inv.bumps)

	report, err = seeder.SeedTenantRoles(context.Background(), acme, cashierDefs())
	require.NoError(t, err)
	assert.Zero(t, report.RolesCreated+report.PermissionsGranted)
	assert.Equal(t, 2, inv.bumps)
}

func TestSeedTenantRolesIsolatesTenants(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPermission("financial.payments.process", "financial", ScopeTenant)
	other := uuid.New()
	otherCashier := repo.addRole(other, "cashier", uuid.NullUUID{})
	acme := uuid.New()
	repo.roleWrites = nil

	_, err := NewDomainSeeder(repo, nil, nil, nil).SeedTenantRoles(context.Background(), acme, cashierDefs())
	require.NoError(t, err)

	assert.Empty(t, repo.rolePermissionNames(otherCashier.ID))
	require.NotEmpty(t, repo.roleWrites)
	for _, tenant := range repo.roleWrites {
		assert.Equal(t, acme, tenant)
	}
}

func TestSeedTenantRolesSkipsPlatformPermissions(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPermission("platform.tenants.view", "platform", ScopePlatform)
	acme := uuid.New()
	defs := []DomainRoleDef{{Name: "ops", Permissions: []string{"platform.tenants.view"}}}

	report, err := NewDomainSeeder(repo, nil, nil, nil).SeedTenantRoles(context.Background(), acme, defs)
	require.NoError(t, err)
	assert.Zero(t, report.PermissionsGranted)
	role, ok := repo.roleNamed(acme, "ops")
	require.True(t, ok)
	assert.Empty(t, repo.rolePermissionNames(role.ID))
}

func TestSeedTenantRolesRetryAfterFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.addPermission("financial.payments.process", "financial", ScopeTenant)
	acme := uuid.New()
	failing := true
	repo.fail = func(op, subject string) error {
		if failing && op == "GrantRolePermissions" {
			return errors.New("connection reset")
		}
		return nil
	}
	seeder := NewDomainSeeder(repo, nil, nil, nil)

	_, err := seeder.SeedTenantRoles(context.Background(), acme, cashierDefs())
	require.Error(t, err)
	_, ok := repo.roleNamed(acme, "cashier")
	assert.False(t, ok, "failed seeding must roll back")

	failing = false
	report, err := seeder.SeedTenantRoles(context.Background(), acme, cashierDefs())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RolesCreated)
	assert.Equal(t, 1, report.PermissionsGranted)
}

func TestSeedTenantRequiresTenant(t *testing.T) {
	_, err := NewDomainSeeder(newMemoryRepo(), nil, nil, nil).SeedTenant(context.Background(), uuid.Nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestSeedTenantUsesAgencyRoles(t *testing.T) {
	repo := newMemoryRepo()
	for _, d := range DefaultCatalog() {
		repo.addPermission(d.Name, d.Module, d.Scope)
	}
	acme := uuid.New()

	report, err := NewDomainSeeder(repo, nil, nil, nil).SeedTenant(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, len(AgencyRoles()), report.RolesCreated)
	assert.Empty(t, report.Unresolved)

	admin, ok := repo.roleNamed(acme, "agency-admin")
	require.True(t, ok)
	assert.ElementsMatch(t, AgencyPermissionNames(), repo.rolePermissionNames(admin.ID))
}

func TestSeedTenantRolesReportsOnceWhenTransactionReruns(t *testing.T) {
	repo := newMemoryRepo()
	repo.replay = true
	repo.addPermission("financial.payments.process", "financial", ScopeTenant)
	seeder := NewDomainSeeder(repo, nil, nil, nil)

	report, err := seeder.SeedTenantRoles(context.Background(), uuid.New(), cashierDefs())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RolesCreated)
	assert.Equal(t, 1, report.PermissionsGranted)
	assert.Equal(t, []string{"cashier:financial.invoices.generate"}, report.Unresolved)
}
