package rbac

// DomainRoleDef is a vertical-specific role with a hand-written permission list.
type DomainRoleDef struct {
	Name         string
	Description  string
	DisplayOrder int
	Permissions  []string
}

// AgencyRoles returns the roles every recruitment agency tenant starts with.
func AgencyRoles() []DomainRoleDef {
	return []DomainRoleDef{
		{
			Name:         "agency-admin",
			Description:  "Full administrative access to all agency operations",
			DisplayOrder: 10,
			Permissions:  AgencyPermissionNames(),
		},
		{
			Name:         "receptionist",
			Description:  "Front desk operations: client registration, worker search, contract creation",
			DisplayOrder: 20,
			Permissions: []string{
				"clients.register",
				"clients.manage",
				"workers.search",
				"contracts.create",
			},
		},
		{
			Name:         "cashier",
			Description:  "Financial operations: payments, invoices, X-Reports",
			DisplayOrder: 30,
			Permissions: []string{
				"financial.payments.process",
				"financial.invoices.generate",
				"financial.xreport.generate",
			},
		},
		{
			Name:         "pro-officer",
			Description:  "Government relations: visa, medical, Emirates ID, passport custody",
			DisplayOrder: 40,
			Permissions: []string{
				"pro.tasks.manage",
				"pro.visa.apply",
				"pro.documents.manage",
				"workers.passport.custody",
				"contracts.approve",
			},
		},
		{
			Name:         "agent",
			Description:  "Worker management: CV editing, scheduling, worker search",
			DisplayOrder: 50,
			Permissions: []string{
				"workers.manage",
				"workers.cv.edit",
				"workers.search",
				"scheduling.bookings.create",
				"scheduling.bookings.cancel",
			},
		},
		{
			Name:         "accountant",
			Description:  "Financial and compliance: all financial operations, WPS, reports",
			DisplayOrder: 60,
			Permissions: []string{
				"financial.payments.process",
				"financial.invoices.generate",
				"financial.xreport.generate",
				"financial.refunds.process",
				"wps.payroll.manage",
				"wps.sif.submit",
				"reports.view",
				"reports.export",
				"reports.mohre",
			},
		},
		{
			Name:         "viewer",
			Description:  "Read-only access to reports",
			DisplayOrder: 70,
			Permissions:  []string{"reports.view"},
		},
	}
}
