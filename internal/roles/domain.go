package roles

import (
	"time"

	"github.com/google/uuid"
)

// Role is a tenant role as seen by the management surface.
type Role struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     uuid.UUID  `json:"tenant_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	IsSystem     bool       `json:"is_system"`
	IsDefault    bool       `json:"is_default"`
	DisplayOrder int        `json:"display_order"`
	TemplateID   *uuid.UUID `json:"template_id,omitempty"`
	Permissions  []string   `json:"permissions"`
	UserCount    int        `json:"user_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Assignment links a user to a role inside a tenant.
type Assignment struct {
	TenantID   uuid.UUID
	UserID     uuid.UUID
	RoleID     uuid.UUID
	AssignedAt time.Time
	AssignedBy uuid.NullUUID
}

// CreateRoleInput is the payload for CreateRole.
type CreateRoleInput struct {
	Name         string   `json:"name" validate:"required,max=100"`
	Description  string   `json:"description" validate:"max=500"`
	DisplayOrder int      `json:"display_order" validate:"gte=0"`
	Permissions  []string `json:"permissions" validate:"dive,required,max=100"`
}

// UpdateRoleInput is the payload for UpdateRole. Nil fields are left unchanged;
// a non-nil Permissions replaces the role's permission set.
type UpdateRoleInput struct {
	Name         *string  `json:"name" validate:"omitempty,max=100"`
	Description  *string  `json:"description" validate:"omitempty,max=500"`
	DisplayOrder *int     `json:"display_order" validate:"omitempty,gte=0"`
	Permissions  []string `json:"permissions" validate:"omitempty,dive,required,max=100"`
}

// AssignRoleInput is the payload for AssignRole.
type AssignRoleInput struct {
	RoleID string `json:"role_id" validate:"required,uuid"`
}
