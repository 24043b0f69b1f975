package rbac

import (
	"time"

	"github.com/google/uuid"

	"github.com/tadhub/tadhub/internal/rbac/selector"
)

// Scope classifies where a permission may be granted.
type Scope string

const (
	ScopeTenant   Scope = "tenant"
	ScopePlatform Scope = "platform"
	ScopeBoth     Scope = "both"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeTenant, ScopePlatform, ScopeBoth:
		return true
	}
	return false
}

// Tenantable reports whether permissions of this scope may be granted to tenant roles.
func (s Scope) Tenantable() bool {
	return s == ScopeTenant || s == ScopeBoth
}

// Permission represents an atomic capability.
type Permission struct {
	ID           uuid.UUID
	Name         string
	Description  string
	Module       string
	Scope        Scope
	DisplayOrder int
	CreatedAt    time.Time
}

func (p Permission) selectorInput() selector.Input {
	return selector.Input{Name: p.Name, Module: p.Module}
}

// RoleTemplate is the platform-wide blueprint a tenant role can be derived from.
type RoleTemplate struct {
	ID           uuid.UUID
	Name         string
	Description  string
	IsSystem     bool
	DisplayOrder int
	CreatedAt    time.Time
}

// Role represents a tenant scoped permission grouping.
type Role struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	Description  string
	IsSystem     bool
	IsDefault    bool
	DisplayOrder int
	TemplateID   uuid.NullUUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// UserRole links a user to a role inside a tenant.
type UserRole struct {
	TenantID   uuid.UUID
	UserID     uuid.UUID
	RoleID     uuid.UUID
	AssignedAt time.Time
	AssignedBy uuid.NullUUID
}

// UserPermissions is the effective grant set of a user in a tenant.
type UserPermissions struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	UserID      uuid.UUID `json:"user_id"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
}

// Has reports whether key is part of the set.
func (u UserPermissions) Has(key string) bool {
	for _, p := range u.Permissions {
		if p == key {
			return true
		}
	}
	return false
}

// IsDerivedFrom reports whether role is a copy of tmpl. A role is derived when
// it links the template by id, or when it has no link at all and carries the
// template's name (roles created before the link existed). Deleted roles are
// never derived.
func IsDerivedFrom(role Role, tmpl RoleTemplate) bool {
	if role.DeletedAt != nil {
		return false
	}
	if role.TemplateID.Valid {
		return role.TemplateID.UUID == tmpl.ID
	}
	return role.Name == tmpl.Name
}
