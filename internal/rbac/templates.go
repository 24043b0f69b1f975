package rbac

import (
	"fmt"
	"strings"

	"github.com/tadhub/tadhub/internal/rbac/selector"
)

// Built-in template names.
const (
	TemplateOwner      = "Owner"
	TemplateAdmin      = "Admin"
	TemplateAccountant = "Accountant"
	TemplateSales      = "Sales"
	TemplateOperations = "Operations"
	TemplateViewer     = "Viewer"
)

// TemplateDef describes a role template and the rule computing its permissions.
type TemplateDef struct {
	Name         string
	Description  string
	IsSystem     bool
	DisplayOrder int
	Selector     selector.Selector
}

// Validate checks the definition before it is reconciled.
func (d TemplateDef) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: template name required", ErrValidation)
	}
	if err := d.Selector.Validate(); err != nil {
		return fmt.Errorf("%w: template %q: %v", ErrValidation, d.Name, err)
	}
	return nil
}

// Desired returns the catalog permissions the template should hold: tenant or
// both scoped permissions accepted by its selector, in catalog order.
func (d TemplateDef) Desired(catalog []Permission) []Permission {
	var out []Permission
	for _, p := range catalog {
		if !p.Scope.Tenantable() {
			continue
		}
		if d.Selector.Match(p.selectorInput()) {
			out = append(out, p)
		}
	}
	return out
}

// DefaultTemplates returns the built-in template definitions.
func DefaultTemplates() []TemplateDef {
	return []TemplateDef{
		{
			Name:         TemplateOwner,
			Description:  "Full access to all features. Assigned to the tenant creator.",
			IsSystem:     true,
			DisplayOrder: 1,
			Selector:     selector.All(),
		},
		{
			Name:         TemplateAdmin,
			Description:  "Administrative access. All permissions except destructive operations.",
			IsSystem:     true,
			DisplayOrder: 2,
			Selector: selector.And(
				selector.Not(selector.BySuffix(".delete")),
				selector.Not(selector.And(selector.ByModule("tenancy"), selector.ByName("tenancy.delete"))),
			),
		},
		{
			Name:         TemplateAccountant,
			Description:  "Financial and billing access.",
			DisplayOrder: 3,
			Selector: selector.Or(
				selector.ByModule("billing"),
				selector.BySuffix(".view"),
				selector.ByModule("analytics"),
			),
		},
		{
			Name:         TemplateSales,
			Description:  "Sales and customer-facing access.",
			DisplayOrder: 4,
			Selector: selector.Or(
				selector.BySuffix(".view"),
				selector.ByModule("content"),
				selector.ByModule("portal"),
				selector.ByModule("notifications"),
			),
		},
		{
			Name:         TemplateOperations,
			Description:  "Operational access for day-to-day management.",
			DisplayOrder: 5,
			Selector: selector.And(
				selector.Not(selector.ByModule("billing")),
				selector.Not(selector.ByModule("roles")),
				selector.Not(selector.BySuffix(".delete")),
			),
		},
		{
			Name:         TemplateViewer,
			Description:  "Read-only access to all features.",
			DisplayOrder: 6,
			Selector:     selector.BySuffix(".view"),
		},
	}
}
