package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertPermission adds a catalog entry unless one with the same name exists.
// Existing rows are never updated.
func (t *txRepository) InsertPermission(ctx context.Context, p Permission) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO permissions (id, name, description, module, scope, display_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO NOTHING`,
		p.ID, p.Name, p.Description, p.Module, string(p.Scope), p.DisplayOrder, time.Now().UTC(),
	)
	if err != nil {
		return false, storeErr("rbac: insert permission", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PermissionsByName resolves catalog entries by key. Unknown keys are absent from the result.
func (t *txRepository) PermissionsByName(ctx context.Context, names []string) (map[string]Permission, error) {
	out := make(map[string]Permission, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, storeErr("rbac: permissions by name", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out[p.Name] = p
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("rbac: permissions by name", err)
	}
	return out, nil
}

// TemplateByName fetches a template by its unique name.
func (t *txRepository) TemplateByName(ctx context.Context, name string) (RoleTemplate, error) {
	tmpl, err := scanTemplate(t.tx.QueryRow(ctx, `SELECT `+templateColumns+` FROM role_templates WHERE name = $1`, name))
	if err != nil {
		return RoleTemplate{}, storeErr("rbac: template by name", notFound(err))
	}
	return tmpl, nil
}

// InsertTemplate creates the template unless the name is taken, in which case
// the existing row is returned with created=false.
func (t *txRepository) InsertTemplate(ctx context.Context, tmpl RoleTemplate) (RoleTemplate, bool, error) {
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO role_templates (id, name, description, is_system, display_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO NOTHING
		RETURNING `+templateColumns,
		tmpl.ID, tmpl.Name, tmpl.Description, tmpl.IsSystem, tmpl.DisplayOrder, time.Now().UTC(),
	)
	created, err := scanTemplate(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return RoleTemplate{}, false, storeErr("rbac: insert template", err)
	}
	existing, err := t.TemplateByName(ctx, tmpl.Name)
	return existing, false, err
}

// TemplatePermissionIDs returns the materialized permission ids of a template.
func (t *txRepository) TemplatePermissionIDs(ctx context.Context, templateID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	rows, err := t.tx.Query(ctx, `SELECT permission_id FROM role_template_permissions WHERE template_id = $1`, templateID)
	if err != nil {
		return nil, storeErr("rbac: template permission ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, storeErr("rbac: template permission ids", err)
	}
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// GrantTemplatePermissions adds join rows, ignoring ones that already exist.
func (t *txRepository) GrantTemplatePermissions(ctx context.Context, templateID uuid.UUID, permissionIDs []uuid.UUID) (int, error) {
	if len(permissionIDs) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO role_template_permissions (template_id, permission_id)
		SELECT $1, p.id FROM unnest($2::uuid[]) AS p(id)
		ON CONFLICT (template_id, permission_id) DO NOTHING`,
		templateID, permissionIDs,
	)
	if err != nil {
		return 0, storeErr("rbac: grant template permissions", err)
	}
	return int(tag.RowsAffected()), nil
}

const roleColumns = `id, tenant_id, name, description, is_system, is_default, display_order, template_id, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &r.IsSystem, &r.IsDefault,
		&r.DisplayOrder, &r.TemplateID, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// DerivedRoleCandidates loads live roles linked to tmpl by id or, when
// unlinked, by name.
func (t *txRepository) DerivedRoleCandidates(ctx context.Context, tmpl RoleTemplate, tenantID uuid.UUID) ([]Role, error) {
	tenant := uuid.NullUUID{UUID: tenantID, Valid: tenantID != uuid.Nil}
	rows, err := t.tx.Query(ctx, `
		SELECT `+roleColumns+`
		FROM roles
		WHERE deleted_at IS NULL
		  AND (template_id = $1 OR (template_id IS NULL AND name = $2))
		  AND ($3::uuid IS NULL OR tenant_id = $3)
		ORDER BY tenant_id, name`,
		tmpl.ID, tmpl.Name, tenant,
	)
	if err != nil {
		return nil, storeErr("rbac: derived roles", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("rbac: derived roles", err)
	}
	return roles, nil
}

// RolePermissionIDs bulk-loads the permission ids of many roles in one round trip.
func (t *txRepository) RolePermissionIDs(ctx context.Context, roleIDs []uuid.UUID) (map[uuid.UUID]map[uuid.UUID]struct{}, error) {
	out := make(map[uuid.UUID]map[uuid.UUID]struct{}, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT role_id, permission_id FROM role_permissions WHERE role_id = ANY($1::uuid[])`, roleIDs)
	if err != nil {
		return nil, storeErr("rbac: role permission ids", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID, permID uuid.UUID
		if err := rows.Scan(&roleID, &permID); err != nil {
			return nil, err
		}
		set, ok := out[roleID]
		if !ok {
			set = make(map[uuid.UUID]struct{})
			out[roleID] = set
		}
		set[permID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("rbac: role permission ids", err)
	}
	return out, nil
}

// GrantRolePermissions adds join rows for a role of tenantID, ignoring
// existing ones. Nothing is written when the role is not in that tenant.
func (t *txRepository) GrantRolePermissions(ctx context.Context, tenantID, roleID uuid.UUID, permissionIDs []uuid.UUID) (int, error) {
	if len(permissionIDs) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO role_permissions (tenant_id, role_id, permission_id)
		SELECT r.tenant_id, r.id, p.id
		FROM roles r
		CROSS JOIN unnest($3::uuid[]) AS p(id)
		WHERE r.id = $2 AND r.tenant_id = $1
		ON CONFLICT (role_id, permission_id) DO NOTHING`,
		tenantID, roleID, permissionIDs,
	)
	if err != nil {
		return 0, storeErr("rbac: grant role permissions", err)
	}
	return int(tag.RowsAffected()), nil
}

// RoleByName fetches a live role of a tenant.
func (t *txRepository) RoleByName(ctx context.Context, tenantID uuid.UUID, name string) (Role, error) {
	role, err := scanRole(t.tx.QueryRow(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE tenant_id = $1 AND name = $2 AND deleted_at IS NULL`, tenantID, name))
	if err != nil {
		return Role{}, storeErr("rbac: role by name", notFound(err))
	}
	return role, nil
}

// InsertRole creates a role unless a live one with the same name exists in
// the tenant, in which case that one is returned with created=false.
func (t *txRepository) InsertRole(ctx context.Context, r Role) (Role, bool, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	row := t.tx.QueryRow(ctx, `
		INSERT INTO roles (id, tenant_id, name, description, is_system, is_default, display_order, template_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (tenant_id, name) WHERE deleted_at IS NULL DO NOTHING
		RETURNING `+roleColumns,
		r.ID, r.TenantID, r.Name, r.Description, r.IsSystem, r.IsDefault, r.DisplayOrder, r.TemplateID, now,
	)
	created, err := scanRole(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Role{}, false, storeErr("rbac: insert role", err)
	}
	existing, err := t.RoleByName(ctx, r.TenantID, r.Name)
	return existing, false, err
}

// AssignUserRole links a user to a role, ignoring an existing link.
func (t *txRepository) AssignUserRole(ctx context.Context, ur UserRole) (bool, error) {
	if ur.AssignedAt.IsZero() {
		ur.AssignedAt = time.Now().UTC()
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO user_roles (tenant_id, user_id, role_id, assigned_at, assigned_by)
		SELECT r.tenant_id, $2, r.id, $4, $5
		FROM roles r
		WHERE r.id = $3 AND r.tenant_id = $1 AND r.deleted_at IS NULL
		ON CONFLICT (tenant_id, user_id, role_id) DO NOTHING`,
		ur.TenantID, ur.UserID, ur.RoleID, ur.AssignedAt, ur.AssignedBy,
	)
	if err != nil {
		return false, storeErr("rbac: assign user role", err)
	}
	return tag.RowsAffected() == 1, nil
}
