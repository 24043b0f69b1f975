package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tadhub/tadhub/internal/platform/db"
	"github.com/tadhub/tadhub/internal/rbac"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type pgTx struct {
	q querier
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return wrap("roles: tx", db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{q: tx})
	}))
}

const selectRole = `
	SELECT r.id, r.tenant_id, r.name, r.description, r.is_system, r.is_default, r.display_order,
	       r.template_id, r.created_at, r.updated_at,
	       COALESCE((SELECT array_agg(p.name ORDER BY p.name)
	                 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
	                 WHERE rp.role_id = r.id AND rp.tenant_id = r.tenant_id), '{}') AS permissions,
	       (SELECT count(*) FROM user_roles ur WHERE ur.role_id = r.id AND ur.tenant_id = r.tenant_id) AS user_count
	FROM roles r`

func scanRole(row pgx.Row) (Role, error) {
	var (
		role     Role
		template uuid.NullUUID
	)
	err := row.Scan(&role.ID, &role.TenantID, &role.Name, &role.Description, &role.IsSystem, &role.IsDefault,
		&role.DisplayOrder, &template, &role.CreatedAt, &role.UpdatedAt, &role.Permissions, &role.UserCount)
	if err != nil {
		return Role{}, err
	}
	if template.Valid {
		id := template.UUID
		role.TemplateID = &id
	}
	return role, nil
}

func collectRoles(rows pgx.Rows, err error) ([]Role, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// ListRoles returns live roles ordered for display.
func (r *PGRepository) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	roles, err := collectRoles(r.pool.Query(ctx, selectRole+`
		WHERE r.tenant_id = $1 AND r.deleted_at IS NULL
		ORDER BY r.display_order, r.name`, tenantID))
	return roles, wrap("roles: list", err)
}

// GetRole returns a live role of the tenant.
func (r *PGRepository) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	return getRole(ctx, r.pool, tenantID, roleID)
}

// ListUserRoles returns live roles held by a user.
func (r *PGRepository) ListUserRoles(ctx context.Context, tenantID, userID uuid.UUID) ([]Role, error) {
	roles, err := collectRoles(r.pool.Query(ctx, selectRole+`
		JOIN user_roles ur ON ur.role_id = r.id AND ur.tenant_id = r.tenant_id
		WHERE r.tenant_id = $1 AND ur.user_id = $2 AND r.deleted_at IS NULL
		ORDER BY r.display_order, r.name`, tenantID, userID))
	return roles, wrap("roles: list user roles", err)
}

func getRole(ctx context.Context, q querier, tenantID, roleID uuid.UUID) (Role, error) {
	role, err := scanRole(q.QueryRow(ctx, selectRole+`
		WHERE r.tenant_id = $1 AND r.id = $2 AND r.deleted_at IS NULL`, tenantID, roleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, fmt.Errorf("%w: role %s", rbac.ErrNotFound, roleID)
	}
	return role, wrap("roles: get", err)
}

func (t *pgTx) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	return getRole(ctx, t.q, tenantID, roleID)
}

func (t *pgTx) NameTaken(ctx context.Context, tenantID uuid.UUID, name string, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM roles
			WHERE tenant_id = $1 AND name = $2 AND id <> $3 AND deleted_at IS NULL
		)`, tenantID, name, exclude).Scan(&taken)
	return taken, wrap("roles: name taken", err)
}

func (t *pgTx) InsertRole(ctx context.Context, role Role) (Role, error) {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := time.Now().UTC()
	_, err := t.q.Exec(ctx, `
		INSERT INTO roles (id, tenant_id, name, description, is_system, is_default, display_order, template_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, false, $5, NULL, $6, $6)`,
		role.ID, role.TenantID, role.Name, role.Description, role.DisplayOrder, now,
	)
	if db.IsUniqueViolation(err) {
		return Role{}, fmt.Errorf("%w: role %q already exists", rbac.ErrConflict, role.Name)
	}
	if err != nil {
		return Role{}, wrap("roles: insert", err)
	}
	role.CreatedAt, role.UpdatedAt = now, now
	return role, nil
}

func (t *pgTx) UpdateRole(ctx context.Context, role Role) (Role, error) {
	now := time.Now().UTC()
	tag, err := t.q.Exec(ctx, `
		UPDATE roles SET name = $3, description = $4, display_order = $5, updated_at = $6
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`,
		role.TenantID, role.ID, role.Name, role.Description, role.DisplayOrder, now,
	)
	if db.IsUniqueViolation(err) {
		return Role{}, fmt.Errorf("%w: role %q already exists", rbac.ErrConflict, role.Name)
	}
	if err != nil {
		return Role{}, wrap("roles: update", err)
	}
	if tag.RowsAffected() == 0 {
		return Role{}, fmt.Errorf("%w: role %s", rbac.ErrNotFound, role.ID)
	}
	role.UpdatedAt = now
	return role, nil
}

func (t *pgTx) SoftDeleteRole(ctx context.Context, tenantID, roleID uuid.UUID, at time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE roles SET deleted_at = $3, updated_at = $3
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`, tenantID, roleID, at)
	if err != nil {
		return wrap("roles: delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: role %s", rbac.ErrNotFound, roleID)
	}
	return nil
}

func (t *pgTx) ResolvePermissions(ctx context.Context, names []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := t.q.Query(ctx, `
		SELECT name, id FROM permissions
		WHERE name = ANY($1) AND scope IN ('tenant', 'both')`, names)
	if err != nil {
		return nil, wrap("roles: resolve permissions", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name string
			id   uuid.UUID
		)
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, wrap("roles: resolve permissions", rows.Err())
}

func (t *pgTx) ReplaceRolePermissions(ctx context.Context, tenantID, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	if permissionIDs == nil {
		permissionIDs = []uuid.UUID{}
	}
	if _, err := t.q.Exec(ctx, `
		DELETE FROM role_permissions
		WHERE tenant_id = $1 AND role_id = $2 AND NOT (permission_id = ANY($3::uuid[]))`,
		tenantID, roleID, permissionIDs); err != nil {
		return wrap("roles: revoke permissions", err)
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO role_permissions (tenant_id, role_id, permission_id)
		SELECT $1, $2, p.id FROM unnest($3::uuid[]) AS p(id)
		ON CONFLICT (role_id, permission_id) DO NOTHING`,
		tenantID, roleID, permissionIDs)
	return wrap("roles: grant permissions", err)
}

func (t *pgTx) RoleMembers(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.q.Query(ctx, `SELECT user_id FROM user_roles WHERE tenant_id = $1 AND role_id = $2`, tenantID, roleID)
	if err != nil {
		return nil, wrap("roles: members", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, wrap("roles: members", err)
}

func (t *pgTx) InsertAssignment(ctx context.Context, a Assignment) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO user_roles (tenant_id, user_id, role_id, assigned_at, assigned_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, user_id, role_id) DO NOTHING`,
		a.TenantID, a.UserID, a.RoleID, a.AssignedAt, a.AssignedBy)
	if err != nil {
		return false, wrap("roles: assign", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) DeleteAssignment(ctx context.Context, tenantID, userID, roleID uuid.UUID) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		DELETE FROM user_roles WHERE tenant_id = $1 AND user_id = $2 AND role_id = $3`,
		tenantID, userID, roleID)
	if err != nil {
		return false, wrap("roles: unassign", err)
	}
	return tag.RowsAffected() == 1, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if db.IsUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", op, rbac.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
