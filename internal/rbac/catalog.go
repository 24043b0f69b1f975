package rbac

// Permission keys guarded by this module's own endpoints.
const (
	PermRolesView   = "roles.view"
	PermRolesManage = "roles.manage"
	PermRolesDelete = "roles.delete"
	PermRolesAssign = "roles.assign"
)

// PermissionDef is a built-in catalog entry.
type PermissionDef struct {
	Name         string
	Description  string
	Module       string
	Scope        Scope
	DisplayOrder int
}

// DefaultCatalog returns the platform and agency permissions shipped with the binary.
func DefaultCatalog() []PermissionDef {
	defs := append(platformPermissions(), agencyPermissions()...)
	return append(defs, operatorPermissions()...)
}

func platformPermissions() []PermissionDef {
	return []PermissionDef{
		{"tenancy.view", "View tenant details", "tenancy", ScopeTenant, 1},
		{"tenancy.manage", "Manage tenant settings", "tenancy", ScopeTenant, 2},
		{"tenancy.delete", "Delete tenant", "tenancy", ScopeTenant, 3},

		{"members.view", "View team members", "members", ScopeTenant, 1},
		{"members.invite", "Invite new members", "members", ScopeTenant, 2},
		{"members.manage", "Manage member roles", "members", ScopeTenant, 3},
		{"members.remove", "Remove members", "members", ScopeTenant, 4},

		{PermRolesView, "View roles", "roles", ScopeTenant, 1},
		{PermRolesManage, "Create and edit roles", "roles", ScopeTenant, 2},
		{PermRolesDelete, "Delete roles", "roles", ScopeTenant, 3},
		{PermRolesAssign, "Assign roles to users", "roles", ScopeTenant, 4},

		{"billing.view", "View billing information", "billing", ScopeTenant, 1},
		{"billing.manage", "Manage subscription and payments", "billing", ScopeTenant, 2},

		{"api.view", "View API keys", "api", ScopeTenant, 1},
		{"api.manage", "Create and revoke API keys", "api", ScopeTenant, 2},

		{"settings.view", "View settings", "settings", ScopeBoth, 1},
		{"settings.manage", "Manage settings", "settings", ScopeBoth, 2},

		{"portal.view", "View portals", "portal", ScopeTenant, 1},
		{"portal.manage", "Create and manage portals", "portal", ScopeTenant, 2},
		{"portal.delete", "Delete portals", "portal", ScopeTenant, 3},

		{"content.view", "View content", "content", ScopeTenant, 1},
		{"content.create", "Create content", "content", ScopeTenant, 2},
		{"content.edit", "Edit content", "content", ScopeTenant, 3},
		{"content.delete", "Delete content", "content", ScopeTenant, 4},
		{"content.publish", "Publish content", "content", ScopeTenant, 5},

		{"analytics.view", "View analytics", "analytics", ScopeTenant, 1},
		{"analytics.export", "Export analytics data", "analytics", ScopeTenant, 2},

		{"notifications.view", "View notifications", "notifications", ScopeTenant, 1},
		{"notifications.send", "Send notifications to users", "notifications", ScopeTenant, 2},
	}
}

// agencyPermissions cover the recruitment-agency vertical.
func agencyPermissions() []PermissionDef {
	return []PermissionDef{
		{"clients.register", "Register new clients", "clients", ScopeTenant, 1},
		{"clients.verify", "Verify client documents", "clients", ScopeTenant, 2},
		{"clients.manage", "Manage client records", "clients", ScopeTenant, 3},

		{"workers.manage", "Manage worker records", "workers", ScopeTenant, 1},
		{"workers.cv.edit", "Edit worker CV/profile", "workers", ScopeTenant, 2},
		{"workers.search", "Search available workers", "workers", ScopeTenant, 3},
		{"workers.passport.custody", "Manage passport custody", "workers", ScopeTenant, 4},

		{"contracts.create", "Create new contracts", "contracts", ScopeTenant, 1},
		{"contracts.approve", "Approve contracts", "contracts", ScopeTenant, 2},
		{"contracts.terminate", "Terminate contracts", "contracts", ScopeTenant, 3},
		{"contracts.refund", "Process contract refunds", "contracts", ScopeTenant, 4},

		{"financial.payments.process", "Process payments", "financial", ScopeTenant, 1},
		{"financial.invoices.generate", "Generate invoices", "financial", ScopeTenant, 2},
		{"financial.xreport.generate", "Generate X-Reports (daily cash)", "financial", ScopeTenant, 3},
		{"financial.refunds.process", "Process refunds", "financial", ScopeTenant, 4},

		{"pro.tasks.manage", "Manage PRO tasks", "pro", ScopeTenant, 1},
		{"pro.visa.apply", "Apply for visas", "pro", ScopeTenant, 2},
		{"pro.documents.manage", "Manage government documents", "pro", ScopeTenant, 3},

		{"scheduling.bookings.create", "Create bookings", "scheduling", ScopeTenant, 1},
		{"scheduling.bookings.cancel", "Cancel bookings", "scheduling", ScopeTenant, 2},

		{"wps.payroll.manage", "Manage payroll records", "wps", ScopeTenant, 1},
		{"wps.sif.submit", "Submit SIF files to bank", "wps", ScopeTenant, 2},

		{"reports.view", "View reports", "reports", ScopeTenant, 1},
		{"reports.export", "Export reports", "reports", ScopeTenant, 2},
		{"reports.mohre", "Generate MoHRE compliance reports", "reports", ScopeTenant, 3},
	}
}

// operatorPermissions are held by platform staff only and never reach tenant roles.
func operatorPermissions() []PermissionDef {
	return []PermissionDef{
		{"platform.tenants.view", "View all tenants", "platform", ScopePlatform, 1},
		{"platform.tenants.manage", "Create and suspend tenants", "platform", ScopePlatform, 2},
		{"platform.rbac.sync", "Run role template synchronisation", "platform", ScopePlatform, 3},
	}
}

// AgencyPermissionNames lists every agency permission key.
func AgencyPermissionNames() []string {
	defs := agencyPermissions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}
